/*
Package procsup provides small process-supervision helpers for the protocol
engine's entrypoint: an auto-restart loop for a long-running function, a
goroutine-dump signal handler for diagnosing a stuck daemon, and suppression
of signals that are routine for a TCP daemon to receive.
*/
package procsup

import (
	"os"
	"os/signal"
	runtimePprof "runtime/pprof"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rspamd-go/protoengine/logx"
)

// lockedDown is the process-wide kill switch: once tripped, the daemon stops accepting new connections and the
// supervision loop below stops restarting it. It exists for an operator to drain the process cleanly (e.g. ahead
// of a host being taken out of rotation) without sending it a signal that would also tear down in-flight
// connections.
var lockedDown atomic.Bool

// TriggerLockDown trips the kill switch. Already-open connections are left to finish; no new ones are served.
func TriggerLockDown() {
	lockedDown.Store(true)
}

// LockedDown reports whether TriggerLockDown has been called.
func LockedDown() bool {
	return lockedDown.Load()
}

/*
AutoRestart runs fun and restarts it when it returns an error, subjected to an increasing delay of up to 60 seconds
between each restart. If fun panics, there is no auto-restart - the panic propagates to the caller. AutoRestart
returns once fun returns nil, or once the kill switch has been tripped.
*/
func AutoRestart(logger *logx.Logger, logActorName string, fun func() error) {
	delaySec := 0
	for {
		if LockedDown() {
			logger.Warning(logActorName, nil, "lock-down has been triggered, no further restart is performed.")
			return
		}
		err := fun()
		if err == nil {
			logger.Info(logActorName, nil, "the function has returned successfully, no further restart is required.")
			return
		}
		if delaySec == 0 {
			logger.Warning(logActorName, err, "restarting immediately")
		} else {
			logger.Warning(logActorName, err, "restarting in %d seconds", delaySec)
		}
		time.Sleep(time.Duration(delaySec) * time.Second)
		if delaySec < 60 {
			delaySec += 10
		}
	}
}

// DumpGoroutinesOnInterrupt installs an interrupt signal handler that dumps all goroutine traces to standard error.
// Every interrupt produces another dump; once installed, an interrupt no longer terminates the process.
func DumpGoroutinesOnInterrupt() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		for range c {
			_ = runtimePprof.Lookup("goroutine").WriteTo(os.Stderr, 1)
		}
	}()
}

// HandleDaemonSignals ignores signals that are routine for a TCP daemon to receive and should not terminate it:
// SIGPIPE from a client that closed its connection mid-write, and SIGHUP from a detaching terminal.
func HandleDaemonSignals() {
	signal.Ignore(syscall.SIGPIPE)
	signal.Ignore(syscall.SIGHUP)
}

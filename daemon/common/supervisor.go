package common

import (
	"errors"
	"time"

	"github.com/rspamd-go/protoengine/logx"
)

// ErrDaemonCrash is returned by startAndRecover when the supervised daemon panics.
var ErrDaemonCrash = errors.New("daemon crashed")

// Daemon is capable of starting - a blocking action, and stopping.
type Daemon interface {
	StartAndBlock() error
	Stop()
}

// Supervisor supervises a Daemon by starting it, and restarting it should it crash or return without error.
type Supervisor struct {
	// RestartIntervalSec is the delay between recovering the daemon's panic and restarting the daemon.
	RestartIntervalSec int

	daemon Daemon
	logger logx.Logger
}

// NewSupervisor constructs a daemon's supervisor.
func NewSupervisor(daemon Daemon, restartIntervalSec int, componentName string) *Supervisor {
	return &Supervisor{
		RestartIntervalSec: restartIntervalSec,
		daemon:             daemon,
		logger:             logx.Logger{ComponentName: componentName},
	}
}

// startAndRecover starts the daemon. Should the start function panic, the panic is recovered and logged, and the
// function returns ErrDaemonCrash. Otherwise it returns the daemon's own startup error, if any.
func (super *Supervisor) startAndRecover() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrDaemonCrash
			super.logger.Warning("supervisor", nil, "daemon crashed - %v", r)
		}
	}()
	err = super.daemon.StartAndBlock()
	return
}

// stopAndRecover stops the daemon. Should the stop function panic, the panic is recovered and logged.
func (super *Supervisor) stopAndRecover() {
	defer func() {
		if r := recover(); r != nil {
			super.logger.Warning("supervisor", nil, "failed to stop daemon - %v", r)
		}
	}()
	super.daemon.Stop()
}

// Start starts the daemon and keeps restarting it after a crash or an unexpected clean exit. A startup failure that
// is not itself a panic is returned immediately without retrying.
func (super *Supervisor) Start() error {
	for {
		super.logger.Info("supervisor", nil, "attempting to start daemon")
		err := super.startAndRecover()
		if err != nil && err != ErrDaemonCrash {
			return err
		}
		if err == nil {
			super.logger.Warning("supervisor", nil, "daemon quit without an error, restarting in %d seconds", super.RestartIntervalSec)
		} else {
			super.logger.Warning("supervisor", nil, "restarting panicked daemon in %d seconds", super.RestartIntervalSec)
		}
		super.stopAndRecover()
		time.Sleep(time.Duration(super.RestartIntervalSec) * time.Second)
		// Stop it again, just in case.
		super.stopAndRecover()
	}
}

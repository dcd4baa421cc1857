/*
Package logx prints log messages in a regular format, throttles duplicate
messages, and keeps a small ring buffer of recent entries for inspection.
*/
package logx

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
)

const (
	// MaxLogMessageLen is the maximum length memorised for each of the latest log entries.
	MaxLogMessageLen = 4096
	truncatedLabel   = "...(truncated)..."
)

type WarningCallbackFunc func(componentName, componentID, funcName string, actorName interface{}, err error, msg string)

var (
	// MaxLogMessagePerSec is the maximum number of messages each logger will print before dropping the rest.
	MaxLogMessagePerSec = runtime.NumCPU() * 300

	// latestLogs are a small number of the most recent log messages kept in memory for inspection.
	latestLogs = newRecentRing(maxRecentEntries)

	// latestWarnings are a small number of the most recent warning log messages kept in memory for inspection.
	latestWarnings = newRecentRing(maxRecentEntries)

	// recentWarningActors de-duplicates recent warning messages by actor identity.
	recentWarningActors = newDedupWindow(maxRecentEntries)

	// recentLogContent de-duplicates recent log messages by their formatted content.
	recentLogContent = newDedupWindow(maxRecentEntries)

	// GlobalWarningCallback is invoked in a separate goroutine after any logger processes a warning message.
	// The callback must not itself produce a warning, to avoid infinite recursion.
	GlobalWarningCallback WarningCallbackFunc = nil

	// NumDropped counts de-duplicated log messages that were not printed.
	NumDropped = new(atomic.Int64)
)

// ClearDedupBuffers empties the global de-duplication buffers.
func ClearDedupBuffers() {
	recentWarningActors.clear()
	recentLogContent.clear()
}

// LatestLogs returns the most recent log messages, oldest to newest.
func LatestLogs() []string { return latestLogs.snapshot() }

// LatestWarnings returns the most recent warning log messages, oldest to newest.
func LatestWarnings() []string { return latestWarnings.snapshot() }

// IDField is one key-value pair of a Logger's ComponentID, giving a log entry a clue as to which component
// instance produced it (e.g. a listen address, a connection's remote IP).
type IDField struct {
	Key   string
	Value interface{}
}

// Logger writes log messages in a regular format: "Component[id1=x;id2=y].Func(actor): Error "..." - message".
type Logger struct {
	ComponentName string    // ComponentName is similar to a class name, or a category name.
	ComponentID   []IDField // ComponentID offers a log entry a clue as to its origin.

	initOnce  sync.Once
	rateLimit *RateLimit
}

func (logger *Logger) initialiseOnce() {
	logger.initOnce.Do(func() {
		logger.rateLimit = NewRateLimit(1, MaxLogMessagePerSec, logger)
	})
}

func (logger *Logger) componentIDString() string {
	var msg bytes.Buffer
	if len(logger.ComponentID) > 0 {
		msg.WriteRune('[')
		for i, field := range logger.ComponentID {
			msg.WriteString(fmt.Sprintf("%s=%v", field.Key, field.Value))
			if i < len(logger.ComponentID)-1 {
				msg.WriteRune(';')
			}
		}
		msg.WriteRune(']')
	}
	return msg.String()
}

// Format composes a log message without printing it.
func (logger *Logger) Format(functionName string, actorName interface{}, err error, template string, values ...interface{}) string {
	var msg bytes.Buffer
	if logger.ComponentName != "" {
		msg.WriteString(logger.ComponentName)
	}
	msg.WriteString(logger.componentIDString())
	if functionName != "" {
		if msg.Len() > 0 {
			msg.WriteRune('.')
		}
		msg.WriteString(functionName)
	}
	if actorName != "" {
		msg.WriteString(fmt.Sprintf("(%v)", actorName))
	}
	if msg.Len() > 0 {
		msg.WriteString(": ")
	}
	if err != nil {
		msg.WriteString(fmt.Sprintf("Error %q", err.Error()))
		if template != "" {
			msg.WriteString(" - ")
		}
	}
	msg.WriteString(fmt.Sprintf(template, values...))
	return LintString(TruncateString(msg.String(), MaxLogMessageLen), MaxLogMessageLen)
}

func callerName(skip int) string {
	pc, file, _, ok := runtime.Caller(skip)
	if !ok {
		file = "?"
	}
	fun := runtime.FuncForPC(pc)
	var funName string
	if fun == nil {
		funName = "?"
	} else {
		funName = strings.TrimLeft(filepath.Ext(fun.Name()), ".")
	}
	return filepath.Base(file) + ":" + funName
}

func (logger *Logger) warning(funcName string, actorName interface{}, err error, template string, values ...interface{}) {
	if recentWarningActors.seenBefore(funcName+fmt.Sprint(actorName)) || !logger.rateLimit.Add("", false) {
		NumDropped.Add(1)
		return
	}
	msg := logger.Format(funcName, actorName, err, template, values...)
	log.Print(msg)

	msgWithTime := time.Now().Format("2006-01-02 15:04:05 ") + msg
	latestLogs.push(msgWithTime)
	latestWarnings.push(msgWithTime)

	if GlobalWarningCallback != nil {
		go GlobalWarningCallback(logger.ComponentName, logger.componentIDString(), funcName, actorName, err, fmt.Sprintf(template, values...))
	}
}

// Warning prints a log message and keeps it in the warnings ring buffer.
func (logger *Logger) Warning(actorName interface{}, err error, template string, values ...interface{}) {
	logger.initialiseOnce()
	logger.warning(callerName(2), actorName, err, template, values...)
}

func (logger *Logger) info(funcName string, actorName interface{}, err error, template string, values ...interface{}) {
	if err != nil {
		logger.warning(funcName, actorName, err, template, values...)
		return
	}
	msg := logger.Format(funcName, actorName, err, template, values...)
	if recentLogContent.seenBefore(msg) || !logger.rateLimit.Add("", false) {
		NumDropped.Add(1)
		return
	}
	msgWithTime := time.Now().Format("2006-01-02 15:04:05 ") + msg
	log.Print(msg)
	latestLogs.push(msgWithTime)
}

// Info prints a log message and keeps it in the latest-logs ring buffer. If err is non-nil it is treated as a warning.
func (logger *Logger) Info(actorName interface{}, err error, template string, values ...interface{}) {
	logger.initialiseOnce()
	logger.info(callerName(2), actorName, err, template, values...)
}

// Abort logs the message and terminates the process.
func (logger *Logger) Abort(actorName interface{}, err error, template string, values ...interface{}) {
	logger.initialiseOnce()
	log.Fatal(logger.Format(callerName(2), actorName, err, template, values...))
}

// MaybeMinorError logs err as a warning unless it is nil or describes a routine connection teardown.
func (logger *Logger) MaybeMinorError(err error) {
	logger.initialiseOnce()
	funcName := callerName(2)
	if err != nil && !strings.Contains(err.Error(), "closed") && !strings.Contains(err.Error(), "broken") {
		logger.info(funcName, "", err, "minor error")
	}
}

// DefaultLogger is used where it is not practical to acquire a reference to a more specific logger.
var DefaultLogger = &Logger{ComponentName: "default", ComponentID: []IDField{{"PID", os.Getpid()}}}

// TruncateString returns in unchanged if its length is within maxLength, otherwise it removes text from the middle
// and substitutes "...(truncated)...".
func TruncateString(in string, maxLength int) string {
	if maxLength < 0 {
		maxLength = 0
	}
	if len(in) > maxLength {
		if maxLength <= len(truncatedLabel) {
			return in[:maxLength]
		}
		firstHalfEnd := maxLength/2 - len(truncatedLabel)/2
		secondHalfBegin := len(in) - (maxLength / 2) + len(truncatedLabel)/2
		if maxLength%2 == 0 {
			secondHalfBegin++
		}
		var truncatedMsg bytes.Buffer
		truncatedMsg.WriteString(in[:firstHalfEnd])
		truncatedMsg.WriteString(truncatedLabel)
		truncatedMsg.WriteString(in[secondHalfBegin:])
		return truncatedMsg.String()
	}
	return in
}

// LintString replaces unusual (non-printable, non-ASCII) characters in the input with underscore, and caps the
// result to maxLength.
func LintString(in string, maxLength int) string {
	if maxLength < 0 {
		maxLength = 0
	}
	var cleaned bytes.Buffer
	for i, r := range in {
		if i >= maxLength {
			break
		}
		if (r >= 0 && r <= 8) ||
			(r >= 14 && r <= 31) ||
			(r >= 127) ||
			(!unicode.IsPrint(r) && !unicode.IsSpace(r)) {
			cleaned.WriteRune('_')
		} else {
			cleaned.WriteRune(r)
		}
	}
	return cleaned.String()
}

// ByteArrayLogString returns a human-readable string for a byte array, suitable only for log messages.
func ByteArrayLogString(data []byte) string {
	var countBinaryBytes int
	for _, b := range data {
		if (b <= 8) || (b >= 14 && b <= 31) || (b >= 127) || (!unicode.IsPrint(rune(b)) && !unicode.IsSpace(rune(b))) {
			countBinaryBytes++
		}
	}
	if len(data) > 0 && float32(countBinaryBytes)/float32(len(data)) > 0.5 {
		return fmt.Sprintf("%#v", data)
	}
	return LintString(string(data), 1000)
}

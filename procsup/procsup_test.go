package procsup

import (
	"errors"
	"testing"
	"time"

	"github.com/rspamd-go/protoengine/logx"
	"github.com/stretchr/testify/require"
)

func TestAutoRestart_StopsOnNilReturn(t *testing.T) {
	logger := &logx.Logger{ComponentName: "TestAutoRestart"}
	var attempts int
	AutoRestart(logger, "test", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.Equal(t, 3, attempts)
}

func TestAutoRestart_StopsOnLockDown(t *testing.T) {
	defer lockedDown.Store(false)

	logger := &logx.Logger{ComponentName: "TestAutoRestart"}
	var attempts int
	TriggerLockDown()
	require.True(t, LockedDown())
	AutoRestart(logger, "test", func() error {
		attempts++
		return errors.New("should never run")
	})
	require.Zero(t, attempts)
}

func TestAutoRestart_Immediate(t *testing.T) {
	logger := &logx.Logger{ComponentName: "TestAutoRestart"}
	start := time.Now()
	var attempts int
	AutoRestart(logger, "test", func() error {
		attempts++
		if attempts < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	require.Equal(t, 2, attempts)
	require.Less(t, time.Since(start), 5*time.Second)
}

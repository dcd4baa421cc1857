package logx

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRateLimit_BurstFactor(t *testing.T) {
	limit := NewRateLimit(1, 23, DefaultLogger)
	require.EqualValues(t, 1, limit.UnitSecs)
	require.Equal(t, 23, limit.MaxCount)

	limit = NewRateLimit(1, 22, DefaultLogger)
	require.EqualValues(t, 11, limit.UnitSecs)
	require.Equal(t, 22*11, limit.MaxCount)
}

func TestRateLimit_Add(t *testing.T) {
	limit := NewRateLimit(3, 4, DefaultLogger)
	success := [3]int{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if limit.Add(strconv.Itoa(i), true) {
					mu.Lock()
					success[i]++
					mu.Unlock()
				}
			}
		}(i)
	}
	wg.Wait()
	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.Equal(t, 4, success[i])
	}
}

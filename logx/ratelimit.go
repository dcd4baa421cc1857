package logx

import (
	"sync"
	"time"
)

// burstFactors lets a per-second rate limit absorb a short burst without flooding the log with "exceeded limit"
// notices every single second: if MaxCount divides evenly by one of these factors, the limiter instead tracks
// MaxCount*factor hits over factor seconds, collapsing what would be factor separate warnings into one.
var burstFactors = []int{11, 7, 5, 3, 2}

// actorWindow is one actor's hit count for the current interval, plus whether this interval has already logged
// that the actor tripped the limit (so a noisy actor produces one notice per interval, not one per hit).
type actorWindow struct {
	hits   int
	logged bool
}

/*
RateLimit throttles how often each log actor (a function name, a connection's remote IP, whatever key a caller
supplies) may print within a rolling interval. Rather than a sliding window, the whole interval's counters are
dropped and rebuilt from empty once the interval rolls over.
*/
type RateLimit struct {
	UnitSecs int64
	MaxCount int
	Logger   *Logger

	mutex         sync.Mutex
	intervalStart int64
	actors        map[string]*actorWindow
}

// NewRateLimit constructs a new rate limiter.
func NewRateLimit(unitSecs int64, maxCount int, logger *Logger) *RateLimit {
	if unitSecs < 1 || maxCount < 1 {
		panic("rate limit UnitSecs and MaxCount must be greater than 0")
	}
	limit := &RateLimit{
		UnitSecs: unitSecs,
		MaxCount: maxCount,
		Logger:   logger,
		actors:   make(map[string]*actorWindow),
	}
	if limit.Logger == nil {
		limit.Logger = DefaultLogger
	}
	if limit.UnitSecs == 1 {
		for _, factor := range burstFactors {
			if limit.MaxCount%factor == 0 {
				limit.UnitSecs = int64(factor)
				limit.MaxCount *= factor
				break
			}
		}
	}
	return limit
}

/*
Add records one more hit for actor and reports whether it is still within the interval's limit. Once an actor
crosses MaxCount, further calls return false until the interval rolls over; logIfLimitHit controls whether the
first rejection of an interval is itself logged.
*/
func (limit *RateLimit) Add(actor string, logIfLimitHit bool) bool {
	limit.mutex.Lock()
	defer limit.mutex.Unlock()

	if now := time.Now().Unix(); now-limit.intervalStart >= limit.UnitSecs {
		limit.actors = make(map[string]*actorWindow)
		limit.intervalStart = now
	}

	window, exists := limit.actors[actor]
	if !exists {
		window = &actorWindow{}
		limit.actors[actor] = window
	}
	if window.hits >= limit.MaxCount {
		if !window.logged && logIfLimitHit {
			limit.Logger.Info("RateLimit", nil, "%s exceeded limit of %d hits per %d seconds", actor, limit.MaxCount, limit.UnitSecs)
			window.logged = true
		}
		return false
	}
	window.hits++
	return true
}

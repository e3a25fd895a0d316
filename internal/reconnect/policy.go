package reconnect

import (
	"maps"
	"time"

	"gisthq-bot/internal/config"
)

// Policy decides how many times and how fast the controller retries. It is
// read-only after construction.
type Policy struct {
	maxAttempts  int
	baseDelay    time.Duration
	perCodeDelay map[int]time.Duration
}

func NewPolicy(maxAttempts int, baseDelay time.Duration, perCode map[int]time.Duration) Policy {
	return Policy{
		maxAttempts:  maxAttempts,
		baseDelay:    baseDelay,
		perCodeDelay: maps.Clone(perCode),
	}
}

func PolicyFromConfig(cfg config.Reconnect) Policy {
	return NewPolicy(cfg.MaxAttempts, cfg.BaseDelay, cfg.PerCodeDelay)
}

func (p Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Delay returns the wait before retrying after a close with code.
func (p Policy) Delay(code int) time.Duration {
	if d, ok := p.perCodeDelay[code]; ok {
		return d
	}
	return p.baseDelay
}

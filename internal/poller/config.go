package poller

import (
	"time"

	"github.com/smallbiznis/paymail/internal/config"
)

// Config controls poll cadence and the optional cross-process lease.
type Config struct {
	Interval     time.Duration
	ErrorBackoff time.Duration
	LeaseKey     string
	LeaseTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		ErrorBackoff: time.Minute,
		LeaseKey:     "paymail:poll:lease",
		LeaseTTL:     10 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Interval:     cfg.PollInterval,
		ErrorBackoff: cfg.PollErrorBackoff,
		LeaseKey:     "paymail:poll:lease:" + cfg.AccountAddress,
		LeaseTTL:     cfg.LeaseTTL,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = defaults.ErrorBackoff
	}
	if c.LeaseKey == "" {
		c.LeaseKey = defaults.LeaseKey
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaults.LeaseTTL
	}
	return c
}

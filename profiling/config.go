package profiling

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by NewProfiler for a Config it cannot run with.
var ErrInvalidConfig = errors.New("profiling: invalid config")

type Config struct {
	Enabled bool

	// MinExecutionTime prunes leaf calls that ran for less. Zero keeps every
	// call.
	MinExecutionTime time.Duration

	// ShortSignatures enables the "Type#method" labels on exported trees.
	ShortSignatures bool

	// PoolCapacity bounds the idle nodes a session keeps for reuse.
	PoolCapacity int

	// CheckOwner rejects Start and Stop calls made from a goroutine other
	// than the one that activated the session. It reads the goroutine id
	// from the stack on every call and is meant for debugging only.
	CheckOwner bool
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		MinExecutionTime: 0,
		ShortSignatures:  true,
		PoolCapacity:     512,
	}
}

func (c Config) validate() error {
	if c.MinExecutionTime < 0 {
		return fmt.Errorf("%w: negative min execution time %s", ErrInvalidConfig, c.MinExecutionTime)
	}
	if c.PoolCapacity < 0 {
		return fmt.Errorf("%w: negative pool capacity %d", ErrInvalidConfig, c.PoolCapacity)
	}
	return nil
}

package exporter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fllarpy/callprobe/domain/calls"
)

type LogConfig struct {
	// Threshold is the root duration below which trees are not logged.
	Threshold time.Duration
	// Cooldown suppresses further trees with the same label for a while
	// after one was logged.
	Cooldown time.Duration
	// ASCIIArt draws the tree with box-drawing glyphs.
	ASCIIArt bool
}

// LogReporter writes slow call trees to a zerolog logger as a rendered table.
type LogReporter struct {
	config LogConfig
	logger zerolog.Logger
	now    func() time.Time

	cooldownsLock sync.Mutex
	cooldowns     map[string]time.Time
}

func NewLogReporter(config LogConfig, logger zerolog.Logger) *LogReporter {
	return &LogReporter{
		config:    config,
		logger:    logger,
		now:       time.Now,
		cooldowns: make(map[string]time.Time),
	}
}

func (r *LogReporter) Report(_ context.Context, record calls.Record) error {
	if record.Root == nil || record.Duration() < r.config.Threshold {
		return nil
	}
	if r.isCoolingDown(record.Label) {
		r.logger.Debug().Str("label", record.Label).Msg("call tree is slow, but is in cooldown")
		return nil
	}
	r.setCooldown(record.Label)

	r.logger.Info().
		Str("label", record.Label).
		Dur("duration", record.Duration()).
		Int("io_calls", record.Root.IOCallCount).
		Bool("corrupted", record.Corrupted).
		Msg("call tree\n" + record.Root.Format(r.config.ASCIIArt))
	return nil
}

func (r *LogReporter) isCoolingDown(label string) bool {
	r.cooldownsLock.Lock()
	defer r.cooldownsLock.Unlock()

	if cooldownEnd, exists := r.cooldowns[label]; exists {
		if r.now().Before(cooldownEnd) {
			return true
		}
		delete(r.cooldowns, label)
	}
	return false
}

func (r *LogReporter) setCooldown(label string) {
	if r.config.Cooldown <= 0 {
		return
	}
	r.cooldownsLock.Lock()
	defer r.cooldownsLock.Unlock()
	r.cooldowns[label] = r.now().Add(r.config.Cooldown)
}

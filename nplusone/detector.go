package nplusone

import (
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/fllarpy/callprobe/calltree"
	"github.com/fllarpy/callprobe/domain"
	"github.com/fllarpy/callprobe/domain/calls"
)

type Config struct {
	Enabled   bool
	Threshold int
}

var (
	// numeric and quoted literals, so that statements differing only in
	// their arguments count as the same query
	sqlNumberRegex = regexp.MustCompile(`\b\d+\b`)
	sqlStringRegex = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// NormalizeQuery replaces literals in a SQL query with placeholders, e.g.
// "SELECT ... WHERE id = 1" becomes "SELECT ... WHERE id = ?".
func NormalizeQuery(query string) string {
	query = sqlStringRegex.ReplaceAllString(query, "?")
	return sqlNumberRegex.ReplaceAllString(query, "?")
}

type queryInfo struct {
	count     int
	signature string
}

// Detector looks for statements repeated within one call tree.
type Detector struct {
	config Config
	store  domain.StoreWriter
	logger zerolog.Logger
	now    func() time.Time
}

// NewDetector returns nil when detection is disabled.
func NewDetector(config Config, store domain.StoreWriter, logger zerolog.Logger) *Detector {
	if !config.Enabled || config.Threshold <= 0 {
		return nil
	}
	logger.Info().Int("threshold", config.Threshold).Msg("initializing N+1 query detector")
	return &Detector{
		config: config,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Inspect records an event for every normalized statement executed at least
// Threshold times in the record's tree.
func (d *Detector) Inspect(record calls.Record) {
	if d == nil || record.Root == nil {
		return
	}
	for _, ev := range d.Detect(record) {
		d.logger.Warn().
			Str("label", ev.Label).
			Str("query", ev.Query).
			Int("count", ev.Count).
			Msg("N+1 query detected")
		d.store.RecordNPlusOne(ev)
	}
}

// Detect returns the events found in record without storing them. Events are
// ordered by the first execution of their statement.
func (d *Detector) Detect(record calls.Record) []calls.NPlusOneEvent {
	if record.Root == nil {
		return nil
	}
	queries := make(map[string]*queryInfo)
	var order []string
	record.Root.Walk(func(c *calltree.Call, _ int) bool {
		for _, io := range c.IOCalls {
			q := NormalizeQuery(io.Description)
			info, ok := queries[q]
			if !ok {
				info = &queryInfo{signature: c.Label()}
				queries[q] = info
				order = append(order, q)
			}
			info.count++
		}
		return true
	})

	var events []calls.NPlusOneEvent
	for _, q := range order {
		info := queries[q]
		if info.count < d.config.Threshold {
			continue
		}
		events = append(events, calls.NPlusOneEvent{
			Timestamp:   d.now(),
			Label:       record.Label,
			Signature:   info.signature,
			Query:       q,
			Count:       info.count,
			Description: "N+1 query detected",
		})
	}
	return events
}

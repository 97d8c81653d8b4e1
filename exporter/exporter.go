// Package exporter ships finished call trees to logs, tracing backends and
// message brokers. Every reporter implements domain.Reporter.
package exporter

import (
	"context"
	"errors"

	"github.com/fllarpy/callprobe/domain"
	"github.com/fllarpy/callprobe/domain/calls"
)

// ErrClosed is returned by a reporter used after Close.
var ErrClosed = errors.New("exporter: reporter closed")

var (
	_ domain.Reporter = (*LogReporter)(nil)
	_ domain.Reporter = (*SpanReporter)(nil)
	_ domain.Reporter = (*KafkaReporter)(nil)
	_ domain.Reporter = Multi(nil)
)

// Multi fans a record out to every reporter and joins their errors.
type Multi []domain.Reporter

func (m Multi) Report(ctx context.Context, record calls.Record) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package dataset

import (
	"context"
	"errors"
)

// MultiSink fans rows out to every sink in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink writing to all of sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write implements Sink. It stops at the first failing sink.
func (m *MultiSink) Write(ctx context.Context, rows []Row) error {
	for _, s := range m.sinks {
		if err := s.Write(ctx, rows); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Sink. Every sink is closed and the errors are joined.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

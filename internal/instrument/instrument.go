package instrument

import (
	"time"

	"go.uber.org/zap"

	"github.com/BookingSync/dionysus-go/internal/metrics"
)

// Instrumenter wraps units of work in named spans. Span labels form a
// hierarchy other tooling keys on (e.g. "persist.save",
// "persist.persist_to_many_relationship.bookings"), so they are part of the
// contract, not incidental logging.
type Instrumenter interface {
	Instrument(label string, attrs map[string]any, fn func() error) error
	// Event records a point-in-time lifecycle event (no duration).
	Event(label string, attrs map[string]any)
}

// ErrorHandler is the external error-reporting collaborator.
type ErrorHandler interface {
	CaptureException(err error)
	CaptureMessage(msg string)
}

// Zap implements both collaborators over the zap logger plus a prometheus
// span-duration histogram.
type Zap struct {
	log *zap.Logger
}

func NewZap(log *zap.Logger) *Zap {
	if log == nil {
		log = zap.NewNop()
	}
	return &Zap{log: log}
}

func (z *Zap) Instrument(label string, attrs map[string]any, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	metrics.InstrumentDuration.WithLabelValues(label).Observe(elapsed.Seconds())

	fields := fieldsFor(attrs)
	fields = append(fields, zap.Duration("elapsed", elapsed))
	if err != nil {
		fields = append(fields, zap.Error(err))
		z.log.Warn(label, fields...)
		return err
	}
	z.log.Debug(label, fields...)
	return nil
}

func (z *Zap) Event(label string, attrs map[string]any) {
	z.log.Info(label, fieldsFor(attrs)...)
}

func (z *Zap) CaptureException(err error) {
	z.log.Error("captured exception", zap.Error(err))
}

func (z *Zap) CaptureMessage(msg string) {
	z.log.Warn(msg)
}

func fieldsFor(attrs map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(attrs)+1)
	for k, v := range attrs {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

// Noop discards everything; handy default for tests.
type Noop struct{}

func (Noop) Instrument(_ string, _ map[string]any, fn func() error) error { return fn() }
func (Noop) Event(string, map[string]any)                                {}
func (Noop) CaptureException(error)                                      {}
func (Noop) CaptureMessage(string)                                       {}

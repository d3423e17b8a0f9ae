package producer

import (
	"context"
	"fmt"

	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

type suppressKey struct{}

// WithPublishingSuppressed marks the context so the outbox write path drops
// all enqueues. Replaces the ambient thread-local toggle with explicit
// request-scoped state.
func WithPublishingSuppressed(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

// PublishingSuppressed reports whether enqueues are disabled on this context.
func PublishingSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressKey{}).(bool)
	return v
}

// Publishable is the transient view over a domain record that the outbox
// write path classifies: which topics it publishes to, what changed, and
// what kind of event an update amounts to.
type Publishable struct {
	rec       model.Record
	reg       *registry.Registry
	cfg       *registry.Model // nil when the model is only an observer source
	changeset model.Changeset
}

// Wrap builds a Publishable for one mutation of rec with the given changeset.
func Wrap(rec model.Record, reg *registry.Registry, changeset model.Changeset) *Publishable {
	return &Publishable{
		rec:       rec,
		reg:       reg,
		cfg:       reg.Model(rec.ModelName()),
		changeset: changeset,
	}
}

// Topics lists every topic this record must publish to, including the
// reserved observer topic when something watches this model.
func (p *Publishable) Topics() []string { return p.reg.TopicsFor(p.rec.ModelName()) }

// Changeset is the diff of the triggering mutation.
func (p *Publishable) Changeset() model.Changeset { return p.changeset }

// SoftDeletable reports whether the model declares a soft-delete column.
func (p *Publishable) SoftDeletable() bool {
	return p.cfg != nil && p.cfg.SoftDeleteColumn != ""
}

// SoftDeleted reports whether the soft-delete column is currently set.
func (p *Publishable) SoftDeleted() bool {
	if !p.SoftDeletable() {
		return false
	}
	v, ok := p.rec.Attribute(p.cfg.SoftDeleteColumn)
	return ok && v != nil
}

// Visible is the inverse of SoftDeleted for soft-deletable models; records
// without a soft-delete column are always visible.
func (p *Publishable) Visible() bool { return !p.SoftDeleted() }

// ErrInvalidSoftDeleteTransition marks a changeset shape the classification
// table has no row for. It should never happen; failing fast beats
// publishing a wrong event kind.
var ErrInvalidSoftDeleteTransition = fmt.Errorf("outbox: invalid soft-delete transition")

// UpdateEventKind classifies an update mutation per the soft-delete state
// machine. The second return is false when the event is suppressed entirely
// (soft-deleted record on a model that does not publish after soft-delete).
func (p *Publishable) UpdateEventKind() (model.EventKind, bool, error) {
	if !p.SoftDeletable() {
		return model.EventUpdated, true, nil
	}

	change, changed := p.changeset[p.cfg.SoftDeleteColumn]
	if !changed {
		if p.Visible() {
			return model.EventUpdated, true, nil
		}
		if p.cfg.PublishAfterSoftDelete {
			return model.EventUpdated, true, nil
		}
		return model.EventUnknown, false, nil
	}

	wasSet := change[0] != nil
	isSet := change[1] != nil
	switch {
	case wasSet && !isSet:
		// restoration
		return model.EventCreated, true, nil
	case isSet:
		// newly canceled, or still canceled with a new timestamp
		return model.EventDestroyed, true, nil
	default:
		return model.EventUnknown, false, fmt.Errorf(
			"%w: %s#%v %s %v -> %v",
			ErrInvalidSoftDeleteTransition, p.rec.ModelName(), p.rec.PrimaryKey(),
			p.cfg.SoftDeleteColumn, change[0], change[1],
		)
	}
}

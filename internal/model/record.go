package model

// Record is the producer-side view of a domain row. Implementations are thin
// wrappers over whatever the owning service stores; the pipeline only reads
// through this interface.
type Record interface {
	// ModelName is the registered class name, e.g. "Rental".
	ModelName() string
	// PrimaryKey is the record's id in the owning store.
	PrimaryKey() any
	// Attribute returns a named attribute and whether the record exposes it.
	Attribute(name string) (any, bool)
	// Association returns the loaded records behind a declared relationship
	// and whether the association is known to this record.
	Association(name string) ([]Record, bool)
	// Persisted is false once the row has been hard-deleted; serialization
	// then falls back to the minimal {id, links: {}} body.
	Persisted() bool
}

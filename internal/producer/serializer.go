package producer

import (
	"github.com/BookingSync/dionysus-go/internal/model"
	"github.com/BookingSync/dionysus-go/internal/registry"
)

// Serializer converts domain records into the wire body using the schema
// declared at registration time. One schema per model; no runtime
// introspection.
type Serializer struct {
	reg *registry.Registry
}

func NewSerializer(reg *registry.Registry) *Serializer {
	return &Serializer{reg: reg}
}

// Serialize renders each record. dependencies names the relationships to
// embed as full nested bodies on this pass; everything else stays a bare
// foreign key under links.
func (s *Serializer) Serialize(records []model.Record, dependencies []string) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, s.serializeOne(rec, dependencies))
	}
	return out
}

func (s *Serializer) serializeOne(rec model.Record, dependencies []string) map[string]any {
	cfg := s.reg.Model(rec.ModelName())
	if cfg == nil || !rec.Persisted() {
		// tombstoned/deleted related record: only the id survives
		pk := "id"
		if cfg != nil {
			pk = cfg.PrimaryKey
		}
		return map[string]any{pk: rec.PrimaryKey(), "links": map[string]any{}}
	}

	body := map[string]any{cfg.PrimaryKey: rec.PrimaryKey()}
	for _, attr := range cfg.Attributes {
		if v, ok := rec.Attribute(attr); ok {
			body[attr] = v
		}
	}

	// links always carries every declared relationship's foreign key,
	// embedded or not
	links := map[string]any{}
	for _, rel := range cfg.ToOne {
		fk, _ := rec.Attribute(rel.ForeignKey)
		if rel.TypeAttribute != "" {
			typ, _ := rec.Attribute(rel.TypeAttribute)
			links[rel.Name] = map[string]any{"id": fk, "type": typ}
		} else {
			links[rel.Name] = fk
		}
	}
	for _, rel := range cfg.ToMany {
		ids, _ := rec.Attribute(rel.IDsAttribute)
		if ids == nil {
			ids = []any{}
		}
		links[rel.Name] = ids
	}
	body["links"] = links

	for _, rel := range cfg.ToOne {
		if !contains(dependencies, rel.Name) {
			continue
		}
		related, ok := rec.Association(rel.Name)
		if !ok {
			continue
		}
		if len(related) == 0 {
			body[rel.Name] = nil
			continue
		}
		body[rel.Name] = s.serializeOne(related[0], dependencies)
	}
	for _, rel := range cfg.ToMany {
		if !contains(dependencies, rel.Name) {
			continue
		}
		related, ok := rec.Association(rel.Name)
		if !ok {
			continue
		}
		body[rel.Name] = s.Serialize(related, dependencies)
	}

	return body
}

func contains(list []string, name string) bool {
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}

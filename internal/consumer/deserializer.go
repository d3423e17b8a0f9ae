package consumer

import (
	"sort"

	"github.com/jinzhu/inflection"

	"github.com/BookingSync/dionysus-go/internal/model"
)

// reserved payload keys handled by name; everything else is a plain
// attribute or a relationship.
var reservedKeys = map[string]string{
	"id":          model.AttrSyncedID,
	"created_at":  model.AttrSyncedCreatedAt,
	"updated_at":  model.AttrSyncedUpdatedAt,
	"canceled_at": model.AttrSyncedCanceledAt,
}

// Deserialize parses a wire payload into canonical records. Pure function:
// no store access, no registry. A nil payload yields an empty list.
func Deserialize(payload []map[string]any) []*model.CanonicalRecord {
	out := make([]*model.CanonicalRecord, 0, len(payload))
	for _, obj := range payload {
		if obj == nil {
			continue
		}
		out = append(out, deserializeOne(obj))
	}
	return out
}

func deserializeOne(obj map[string]any) *model.CanonicalRecord {
	rec := model.NewCanonicalRecord()

	links, _ := obj["links"].(map[string]any)

	// reserved keys remap to synced_* only when actually present; absence
	// must not synthesize a null attribute
	for key, synced := range reservedKeys {
		if v, ok := obj[key]; ok {
			rec.Attributes[synced] = v
		}
	}

	// plain attributes: everything that is neither reserved nor a
	// relationship body
	for key, v := range obj {
		if _, reserved := reservedKeys[key]; reserved || key == "links" {
			continue
		}
		if links != nil {
			if _, isRel := links[key]; isRel {
				continue
			}
		}
		rec.Attributes[key] = v
	}

	// every link becomes a foreign-key attribute, embedded or not
	for _, name := range sortedKeys(links) {
		value := links[name]
		switch v := value.(type) {
		case []any:
			rec.Attributes["synced_"+inflection.Singular(name)+"_ids"] = v
		case map[string]any:
			// polymorphic to-one
			rec.Attributes["synced_"+name+"_id"] = v["id"]
			rec.Attributes["synced_"+name+"_type"] = v["type"]
		default:
			// plain to-one; nil is a meaningful value here
			rec.Attributes["synced_"+name+"_id"] = value
		}
	}

	// a relationship is recursed into only when its body is sideloaded as a
	// sibling key; otherwise it stays a bare foreign key
	for _, name := range sortedKeys(links) {
		body, sideloaded := obj[name]
		if !sideloaded {
			continue
		}
		switch linkValue := links[name].(type) {
		case []any:
			rec.HasMany = append(rec.HasMany, model.Relationship{
				Name:      name,
				ModelName: name,
				Records:   deserializeBodies(body),
			})
		case map[string]any:
			modelName := name
			if typ, ok := linkValue["type"].(string); ok && typ != "" {
				modelName = typ
			}
			rec.HasOne = append(rec.HasOne, model.Relationship{
				Name:      name,
				ModelName: modelName,
				Records:   deserializeBodies(body),
			})
		default:
			if body != nil {
				rec.HasOne = append(rec.HasOne, model.Relationship{
					Name:      name,
					ModelName: name,
					Records:   deserializeBodies(body),
				})
			}
		}
	}

	return rec
}

// deserializeBodies handles both shapes a sideloaded body can take: a list
// of objects (to-many) or a single object (to-one). Nil stays nil, which is
// distinct from an explicitly empty list.
func deserializeBodies(body any) []*model.CanonicalRecord {
	switch b := body.(type) {
	case nil:
		return nil
	case []any:
		out := make([]*model.CanonicalRecord, 0, len(b))
		for _, item := range b {
			if obj, ok := item.(map[string]any); ok {
				out = append(out, deserializeOne(obj))
			}
		}
		return out
	case map[string]any:
		return []*model.CanonicalRecord{deserializeOne(b)}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

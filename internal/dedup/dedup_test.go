package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type item struct {
	id    string
	topic string
	seq   int
}

func keyOf(i item) (Key, bool) {
	if i.id == "" {
		return Key{}, false
	}
	return Key{ResourceClass: "Rental", ResourceID: i.id, Topic: i.topic}, true
}

func TestConsecutiveCollapsesRuns(t *testing.T) {
	items := []item{
		{id: "1", topic: "rentals", seq: 1},
		{id: "1", topic: "rentals", seq: 2},
		{id: "1", topic: "rentals", seq: 3},
		{id: "2", topic: "rentals", seq: 4},
	}
	out := Consecutive(items, keyOf)
	assert.Len(t, out, 2)
	// the later entry of the run survives
	assert.Equal(t, 3, out[0].seq)
	assert.Equal(t, 4, out[1].seq)
}

func TestConsecutiveKeepsInterleavings(t *testing.T) {
	items := []item{
		{id: "1", topic: "rentals", seq: 1},
		{id: "2", topic: "rentals", seq: 2},
		{id: "1", topic: "rentals", seq: 3},
	}
	out := Consecutive(items, keyOf)
	assert.Len(t, out, 3)
}

func TestConsecutiveDifferentTopicsNeverCollapse(t *testing.T) {
	items := []item{
		{id: "1", topic: "rentals", seq: 1},
		{id: "1", topic: "rentals_replica", seq: 2},
	}
	out := Consecutive(items, keyOf)
	assert.Len(t, out, 2)
}

func TestConsecutiveSkipsUnkeyed(t *testing.T) {
	items := []item{
		{id: "", seq: 1},
		{id: "", seq: 2},
	}
	out := Consecutive(items, keyOf)
	assert.Len(t, out, 2)
}

func TestConsecutiveShortInputs(t *testing.T) {
	assert.Empty(t, Consecutive(nil, keyOf))
	one := []item{{id: "1", topic: "rentals"}}
	assert.Len(t, Consecutive(one, keyOf), 1)
}

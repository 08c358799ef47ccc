package configtree

import "strings"

// ReservedPrefix marks metadata keys (schema hints, enum listings,
// defaults) that are never rendered generically and never sent back to the
// rig controller.
const ReservedPrefix = "_"

// Reserved reports whether key carries the reserved metadata marker.
func Reserved(key string) bool {
	return strings.HasPrefix(key, ReservedPrefix)
}

// Filter returns a copy of v with every reserved-prefixed key and every
// null entry removed at any depth and empty objects pruned. ok is false
// when the entire tree prunes away. Non-null scalars pass through
// unchanged. Filter never mutates its input and is idempotent.
//
// It runs twice per edit session: once before rendering, to decide what is
// editable, and once before saving, to decide what is transmitted.
func Filter(v Value) (Value, bool) {
	if v.Kind() == KindNull {
		return Value{}, false
	}
	if v.Kind() != KindObject {
		return v, true
	}

	out := NewObject()
	for _, key := range v.Obj().Keys() {
		if Reserved(key) {
			continue
		}
		child, _ := v.Obj().Get(key)
		filtered, ok := Filter(child)
		if !ok {
			continue
		}
		out.Set(key, filtered)
	}

	if out.Len() == 0 {
		return Value{}, false
	}
	return ObjectValue(out), true
}

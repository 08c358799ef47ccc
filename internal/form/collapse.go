// Package form resolves a filtered configuration snapshot into the form
// descriptors the frontend renders: one editable field per leaf, one
// collapsible section per nested object.
package form

import "github.com/saviour-lab/console/internal/configtree"

// CollapsedHintKey is the reserved presentation hint a module may carry in
// its snapshot: a mapping of top-level section names to booleans marking
// which sections start collapsed. Reserved, so the filter keeps it off the
// rendered form and the save payload.
const CollapsedHintKey = "_collapsed"

// CollapseState tracks whether each nested section, keyed by dotted field
// path, is collapsed. It is ephemeral per edit session and resets when the
// session is discarded. Absent paths default to expanded.
type CollapseState map[string]bool

// NewCollapseState returns an empty state with every section expanded.
func NewCollapseState() CollapseState {
	return make(CollapseState)
}

// SeedDefaults applies the snapshot's collapsed-section hint, if present.
// Only top-level sections can be hinted; the operator's later toggles
// overwrite the seeded entries.
func (c CollapseState) SeedDefaults(snapshot configtree.Value) {
	if snapshot.Kind() != configtree.KindObject {
		return
	}
	hint, ok := snapshot.Obj().Get(CollapsedHintKey)
	if !ok || hint.Kind() != configtree.KindObject {
		return
	}
	for _, key := range hint.Obj().Keys() {
		v, _ := hint.Obj().Get(key)
		if v.Kind() == configtree.KindBool && v.Boolean() {
			c[key] = true
		}
	}
}

// Collapsed reports whether the section at path is collapsed.
func (c CollapseState) Collapsed(path string) bool {
	return c[path]
}

// Toggle flips the collapse flag for exactly the given path. Sibling and
// descendant entries are untouched.
func (c CollapseState) Toggle(path string) {
	c[path] = !c[path]
}

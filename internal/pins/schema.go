// Package pins renders and edits the dynamic pin sub-structure of TTL
// module configurations: a collection of pin records keyed by pin number
// whose field set depends on a per-pin mode selector, driven by a schema
// the rig controller ships under reserved metadata keys.
package pins

import (
	"strings"

	"github.com/saviour-lab/console/internal/configtree"
)

// Well-known keys inside a TTL module's configuration snapshot. The pin
// collection itself lives under SubtreeKey; the schema arrives under the
// two reserved keys, which the config tree filter strips before rendering
// and saving.
const (
	SubtreeKey        = "pins"
	AvailableModesKey = "_available_modes"
	ModeSchemaKey     = "_mode_settings_schema"
)

// ModeNone is the mode of a freshly added pin. It declares no fields.
const ModeNone = "None"

// Field value types a mode schema may declare.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
)

// FieldSpec is one declared field of a pin mode. Name is the stripped
// form (no reserved prefix) used on pin records and descriptors.
type FieldSpec struct {
	Name    string
	Type    string
	Min     *float64
	Max     *float64
	Default configtree.Value
}

// Schema drives which fields are rendered per pin and what defaults apply
// when a pin's mode changes. Snapshots carry no arrays, so the controller
// expresses the mode listing as an ordered mapping; key order is the
// display order.
type Schema struct {
	Modes  []string
	Fields map[string][]FieldSpec
}

// HasMode reports whether mode may be assigned to a pin. ModeNone is
// always assignable.
func (s Schema) HasMode(mode string) bool {
	if mode == ModeNone {
		return true
	}
	for _, m := range s.Modes {
		if m == mode {
			return true
		}
	}
	_, declared := s.Fields[mode]
	return declared
}

// FieldSpecFor returns the declared spec for a mode field.
func (s Schema) FieldSpecFor(mode, name string) (FieldSpec, bool) {
	for _, f := range s.Fields[mode] {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// ParseSchema extracts the pin mode schema from a raw (unfiltered) module
// snapshot. ok is false when the module declares no dynamic pin
// sub-structure, in which case its pins key (if any) renders generically.
func ParseSchema(snapshot configtree.Value) (Schema, bool) {
	if snapshot.Kind() != configtree.KindObject {
		return Schema{}, false
	}

	modesVal, hasModes := snapshot.Obj().Get(AvailableModesKey)
	schemaVal, hasSchema := snapshot.Obj().Get(ModeSchemaKey)
	if !hasModes && !hasSchema {
		return Schema{}, false
	}

	s := Schema{Fields: make(map[string][]FieldSpec)}

	if hasModes && modesVal.Kind() == configtree.KindObject {
		s.Modes = append(s.Modes, modesVal.Obj().Keys()...)
	}

	if hasSchema && schemaVal.Kind() == configtree.KindObject {
		for _, mode := range schemaVal.Obj().Keys() {
			fieldsVal, _ := schemaVal.Obj().Get(mode)
			if fieldsVal.Kind() != configtree.KindObject {
				continue
			}
			var specs []FieldSpec
			for _, rawName := range fieldsVal.Obj().Keys() {
				specVal, _ := fieldsVal.Obj().Get(rawName)
				specs = append(specs, parseFieldSpec(rawName, specVal))
			}
			s.Fields[mode] = specs
			if !containsMode(s.Modes, mode) {
				s.Modes = append(s.Modes, mode)
			}
		}
	}

	return s, true
}

func parseFieldSpec(rawName string, v configtree.Value) FieldSpec {
	spec := FieldSpec{
		Name:    strings.TrimPrefix(rawName, configtree.ReservedPrefix),
		Type:    TypeString,
		Default: configtree.String(""),
	}
	if v.Kind() != configtree.KindObject {
		return spec
	}

	if t, ok := v.Obj().Get("type"); ok && t.Kind() == configtree.KindString {
		switch t.Str() {
		case TypeString, TypeInt, TypeFloat, TypeBool:
			spec.Type = t.Str()
		}
	}
	if m, ok := v.Obj().Get("min"); ok && m.Kind() == configtree.KindNumber {
		min := m.Num()
		spec.Min = &min
	}
	if m, ok := v.Obj().Get("max"); ok && m.Kind() == configtree.KindNumber {
		max := m.Num()
		spec.Max = &max
	}
	if d, ok := v.Obj().Get("default"); ok && d.Kind() != configtree.KindObject {
		spec.Default = d
	}
	return spec
}

func containsMode(modes []string, mode string) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

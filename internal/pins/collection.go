package pins

import (
	"sort"
	"strconv"
	"strings"

	"github.com/saviour-lab/console/internal/configtree"
	"github.com/saviour-lab/console/model"
)

// ModeKey is the selector field present on every pin record.
const ModeKey = "mode"

// Add inserts a new pin record with mode None. The identifier must parse
// as an integer and must not already be present; on either violation the
// collection is returned unchanged alongside a validation error. Pin keys
// are the decimal form of the pin number.
func Add(pins configtree.Value, rawID string) (configtree.Value, error) {
	id, err := strconv.Atoi(strings.TrimSpace(rawID))
	if err != nil {
		return pins, model.NewValidationError([]model.FieldError{{
			Field:   "pin",
			Code:    model.ErrValidationError,
			Message: "pin identifier must be an integer",
		}})
	}
	key := strconv.Itoa(id)

	obj := pinsObject(pins)
	if _, exists := obj.Get(key); exists {
		return pins, model.NewValidationError([]model.FieldError{{
			Field:   "pin",
			Code:    model.ErrValidationError,
			Message: "pin " + key + " already exists",
		}})
	}

	record := configtree.NewObject()
	record.Set(ModeKey, configtree.String(ModeNone))

	out := cloneInto(obj)
	out.Set(key, configtree.ObjectValue(record))
	return configtree.ObjectValue(out), nil
}

// Remove deletes a pin record unconditionally. Removing an absent pin is a
// no-op.
func Remove(pins configtree.Value, id string) configtree.Value {
	obj := pinsObject(pins)
	if _, exists := obj.Get(id); !exists {
		return configtree.ObjectValue(cloneInto(obj))
	}
	out := cloneInto(obj)
	out.Delete(id)
	return configtree.ObjectValue(out)
}

// SetMode replaces the pin's record with the new mode plus the schema's
// declared defaults for that mode. Field values of the previous mode are
// discarded: mode-specific fields are not portable across modes.
func SetMode(pins configtree.Value, id, mode string, schema Schema) (configtree.Value, error) {
	obj := pinsObject(pins)
	if _, exists := obj.Get(id); !exists {
		return pins, model.NewNotFoundError("pin " + id + " not found")
	}
	if !schema.HasMode(mode) {
		return pins, model.NewValidationError([]model.FieldError{{
			Field:   ModeKey,
			Code:    model.ErrValidationError,
			Message: "unknown pin mode " + strconv.Quote(mode),
		}})
	}

	record := configtree.NewObject()
	record.Set(ModeKey, configtree.String(mode))
	for _, spec := range schema.Fields[mode] {
		record.Set(spec.Name, spec.Default)
	}

	out := cloneInto(obj)
	out.Set(id, configtree.ObjectValue(record))
	return configtree.ObjectValue(out), nil
}

// SetField overwrites one mode-specific field on an existing pin record,
// preserving the mode and all other fields. The raw value is coerced by
// the field's declared schema type and checked against its min/max range.
func SetField(pins configtree.Value, id, field string, raw any, schema Schema) (configtree.Value, error) {
	obj := pinsObject(pins)
	recordVal, exists := obj.Get(id)
	if !exists || recordVal.Kind() != configtree.KindObject {
		return pins, model.NewNotFoundError("pin " + id + " not found")
	}

	modeVal, _ := recordVal.Obj().Get(ModeKey)
	spec, declared := schema.FieldSpecFor(modeVal.Str(), field)
	if !declared {
		return pins, model.NewValidationError([]model.FieldError{{
			Field:   field,
			Code:    model.ErrValidationError,
			Message: "field " + strconv.Quote(field) + " is not declared for mode " + strconv.Quote(modeVal.Str()),
		}})
	}

	coerced, err := coerceByType(spec, raw)
	if err != nil {
		return pins, err
	}

	record := cloneInto(recordVal.Obj())
	record.Set(field, coerced)

	out := cloneInto(obj)
	out.Set(id, configtree.ObjectValue(record))
	return configtree.ObjectValue(out), nil
}

// RenderPanel resolves the pin collection into its descriptor, pins in
// ascending numeric order, each field carrying its declared constraints.
func RenderPanel(pins configtree.Value, schema Schema) *model.PinPanelDescriptor {
	modes := schema.Modes
	if !containsMode(modes, ModeNone) {
		modes = append([]string{ModeNone}, modes...)
	}
	panel := &model.PinPanelDescriptor{
		AvailableModes: modes,
		Pins:           []model.PinDescriptor{},
	}

	obj := pinsObject(pins)
	ids := make([]int, 0, obj.Len())
	for _, key := range obj.Keys() {
		if id, err := strconv.Atoi(key); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	for _, id := range ids {
		recordVal, _ := obj.Get(strconv.Itoa(id))
		if recordVal.Kind() != configtree.KindObject {
			continue
		}
		record := recordVal.Obj()
		modeVal, _ := record.Get(ModeKey)

		desc := model.PinDescriptor{ID: id, Mode: modeVal.Str()}
		for _, spec := range schema.Fields[modeVal.Str()] {
			fv, ok := record.Get(spec.Name)
			if !ok {
				fv = spec.Default
			}
			desc.Fields = append(desc.Fields, model.PinFieldDescriptor{
				Name:  spec.Name,
				Type:  spec.Type,
				Value: fv.Interface(),
				Min:   spec.Min,
				Max:   spec.Max,
			})
		}
		panel.Pins = append(panel.Pins, desc)
	}
	return panel
}

// coerceByType converts a raw edit value by the schema's declared type.
// Unlike generic fields, pin fields have an explicit type, so coercion
// never consults the previous value.
func coerceByType(spec FieldSpec, raw any) (configtree.Value, error) {
	invalid := func(msg string) error {
		return model.NewValidationError([]model.FieldError{{
			Field:   spec.Name,
			Code:    model.ErrValidationError,
			Message: msg,
		}})
	}

	switch spec.Type {
	case TypeBool:
		v, err := configtree.Coerce(configtree.Bool(false), raw)
		if err != nil {
			return configtree.Value{}, invalid("expected a boolean value")
		}
		return v, nil
	case TypeInt:
		v, err := configtree.Coerce(configtree.Number(0), raw)
		if err != nil {
			return configtree.Value{}, invalid("expected an integer value")
		}
		if v.Num() != float64(int64(v.Num())) {
			return configtree.Value{}, invalid("expected an integer value")
		}
		if err := checkRange(spec, v.Num()); err != nil {
			return configtree.Value{}, err
		}
		return v, nil
	case TypeFloat:
		v, err := configtree.Coerce(configtree.Number(0), raw)
		if err != nil {
			return configtree.Value{}, invalid("expected a numeric value")
		}
		if err := checkRange(spec, v.Num()); err != nil {
			return configtree.Value{}, err
		}
		return v, nil
	default:
		v, err := configtree.Coerce(configtree.String(""), raw)
		if err != nil {
			return configtree.Value{}, invalid("expected a string value")
		}
		return v, nil
	}
}

func checkRange(spec FieldSpec, f float64) error {
	outOfRange := func(bound string, limit float64) error {
		return model.NewValidationError([]model.FieldError{{
			Field:   spec.Name,
			Code:    model.ErrValidationError,
			Message: spec.Name + " must be " + bound + " " + strconv.FormatFloat(limit, 'f', -1, 64),
		}})
	}
	if spec.Min != nil && f < *spec.Min {
		return outOfRange("at least", *spec.Min)
	}
	if spec.Max != nil && f > *spec.Max {
		return outOfRange("at most", *spec.Max)
	}
	return nil
}

// pinsObject tolerates an absent or scalar pins subtree by treating it as
// empty.
func pinsObject(pins configtree.Value) *configtree.Object {
	if pins.Kind() == configtree.KindObject {
		return pins.Obj()
	}
	return configtree.NewObject()
}

// cloneInto shallow-copies an object so collection operations never mutate
// the working copy they were derived from.
func cloneInto(o *configtree.Object) *configtree.Object {
	c := configtree.NewObject()
	for _, k := range o.Keys() {
		v, _ := o.Get(k)
		c.Set(k, v)
	}
	return c
}

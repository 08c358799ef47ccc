package configtree

import (
	"strconv"
	"strings"

	"github.com/saviour-lab/console/model"
)

// Path is an ordered key sequence locating a value inside a snapshot. The
// dotted string form is the stable identifier used by the frontend and by
// collapse state.
type Path []string

// ParsePath splits a dotted path string. The empty string is the empty
// path (the snapshot root).
func ParsePath(s string) Path {
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, "."))
}

// String returns the dotted form.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Child returns p extended by key. The returned path does not alias p.
func (p Path) Child(key string) Path {
	c := make(Path, len(p)+1)
	copy(c, p)
	c[len(p)] = key
	return c
}

// Read folds the path over root, indexing one object level per segment.
// Returns a PATH_NOT_FOUND error if any intermediate segment is absent or
// not an object.
func Read(root Value, p Path) (Value, error) {
	cur := root
	for i, seg := range p {
		if cur.Kind() != KindObject {
			return Value{}, model.NewPathNotFoundError(p[:i+1].String())
		}
		next, ok := cur.Obj().Get(seg)
		if !ok {
			return Value{}, model.NewPathNotFoundError(p[:i+1].String())
		}
		cur = next
	}
	return cur, nil
}

// Write returns a new snapshot with the value at p replaced by nv. Every
// ancestor object along the path is shallow-copied so untouched siblings
// are shared with the original tree. The target key must already exist;
// edits never create new paths.
func Write(root Value, p Path, nv Value) (Value, error) {
	if len(p) == 0 {
		return nv, nil
	}
	if root.Kind() != KindObject {
		return Value{}, model.NewPathNotFoundError(p[:1].String())
	}
	seg := p[0]
	cur, ok := root.Obj().Get(seg)
	if !ok {
		return Value{}, model.NewPathNotFoundError(p[:1].String())
	}

	var child Value
	if len(p) == 1 {
		child = nv
	} else {
		replaced, err := Write(cur, p[1:], nv)
		if err != nil {
			// Rebuild the full offending path for the error message.
			if ee, isEnv := err.(*model.ErrorEnvelope); isEnv && ee.Code == model.ErrPathNotFound {
				return Value{}, model.NewPathNotFoundError(p.String())
			}
			return Value{}, err
		}
		child = replaced
	}

	obj := root.Obj().clone()
	obj.Set(seg, child)
	return ObjectValue(obj), nil
}

// Coerce converts a raw edit value into a Value of the same kind as prev.
// The declared kind comes from the existing value at the path, so the
// conversion is total: a numeric field rejects unparsable input instead of
// producing NaN, and a boolean field accepts checkbox-style input.
func Coerce(prev Value, raw any) (Value, error) {
	switch prev.Kind() {
	case KindBool:
		switch r := raw.(type) {
		case bool:
			return Bool(r), nil
		case string:
			switch strings.ToLower(r) {
			case "true", "on", "1":
				return Bool(true), nil
			case "false", "off", "0", "":
				return Bool(false), nil
			}
		}
		return Value{}, model.NewValidationError([]model.FieldError{{
			Code:    model.ErrValidationError,
			Message: "expected a boolean value",
		}})
	case KindNumber:
		switch r := raw.(type) {
		case float64:
			return Number(r), nil
		case int:
			return Number(float64(r)), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(r), 64)
			if err == nil {
				return Number(f), nil
			}
		}
		return Value{}, model.NewValidationError([]model.FieldError{{
			Code:    model.ErrValidationError,
			Message: "expected a numeric value",
		}})
	case KindString:
		switch r := raw.(type) {
		case string:
			return String(r), nil
		case float64:
			return String(strconv.FormatFloat(r, 'f', -1, 64)), nil
		case bool:
			return String(strconv.FormatBool(r)), nil
		}
		return Value{}, model.NewValidationError([]model.FieldError{{
			Code:    model.ErrValidationError,
			Message: "expected a string value",
		}})
	case KindNull:
		// Null fields are filtered off the form, so nothing should
		// address one.
		return Value{}, model.NewValidationError([]model.FieldError{{
			Code:    model.ErrValidationError,
			Message: "null fields are not editable",
		}})
	default:
		return Value{}, model.NewValidationError([]model.FieldError{{
			Code:    model.ErrValidationError,
			Message: "nested sections cannot be edited as a single field",
		}})
	}
}

package configtree

import (
	"encoding/json"
	"testing"

	"github.com/saviour-lab/console/model"
)

func pathErrCode(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
	}
	return ee.Code
}

// --- ParsePath ---

func TestParsePath(t *testing.T) {
	p := ParsePath("camera.exposure")
	if len(p) != 2 || p[0] != "camera" || p[1] != "exposure" {
		t.Fatalf("ParsePath = %v", p)
	}
	if p.String() != "camera.exposure" {
		t.Errorf("String() = %q", p.String())
	}
	if len(ParsePath("")) != 0 {
		t.Error("empty string should parse to the root path")
	}
}

// --- Read ---

func TestRead(t *testing.T) {
	v := mustParseJSON(t, `{"camera":{"exposure":10}}`)

	got, err := Read(v, ParsePath("camera.exposure"))
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if got.Num() != 10 {
		t.Errorf("Read = %v, want 10", got.Num())
	}
}

func TestRead_missingSegment(t *testing.T) {
	v := mustParseJSON(t, `{"camera":{"exposure":10}}`)

	_, err := Read(v, ParsePath("camera.gain"))
	if code := pathErrCode(t, err); code != model.ErrPathNotFound {
		t.Errorf("code = %s, want %s", code, model.ErrPathNotFound)
	}
}

func TestRead_scalarIntermediate(t *testing.T) {
	v := mustParseJSON(t, `{"camera":{"exposure":10}}`)

	_, err := Read(v, ParsePath("camera.exposure.deeper"))
	if code := pathErrCode(t, err); code != model.ErrPathNotFound {
		t.Errorf("code = %s, want %s", code, model.ErrPathNotFound)
	}
}

// --- Write ---

func TestWrite_readBackAndSiblingsUnchanged(t *testing.T) {
	v := mustParseJSON(t, `{"gain":3,"camera":{"exposure":10,"auto":true}}`)

	w, err := Write(v, ParsePath("camera.exposure"), Number(25))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}

	got, err := Read(w, ParsePath("camera.exposure"))
	if err != nil || got.Num() != 25 {
		t.Fatalf("read-back = %v, %v", got.Num(), err)
	}

	// Untouched paths keep their values.
	gain, _ := Read(w, ParsePath("gain"))
	if gain.Num() != 3 {
		t.Errorf("gain = %v, want 3", gain.Num())
	}
	auto, _ := Read(w, ParsePath("camera.auto"))
	if !auto.Boolean() {
		t.Error("camera.auto changed")
	}

	// The original snapshot is not mutated.
	orig, _ := Read(v, ParsePath("camera.exposure"))
	if orig.Num() != 10 {
		t.Errorf("original mutated: exposure = %v", orig.Num())
	}
}

func TestWrite_structuralSharing(t *testing.T) {
	v := mustParseJSON(t, `{"a":{"x":1},"b":{"y":2}}`)

	w, err := Write(v, ParsePath("a.x"), Number(9))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}

	// The untouched sibling subtree is the same Object, not a copy.
	origB, _ := v.Obj().Get("b")
	newB, _ := w.Obj().Get("b")
	if origB.Obj() != newB.Obj() {
		t.Error("untouched sibling subtree was copied")
	}
}

func TestWrite_missingTarget(t *testing.T) {
	v := mustParseJSON(t, `{"camera":{"exposure":10}}`)

	_, err := Write(v, ParsePath("camera.gain"), Number(1))
	if code := pathErrCode(t, err); code != model.ErrPathNotFound {
		t.Errorf("code = %s, want %s", code, model.ErrPathNotFound)
	}
}

func TestWrite_rootReplacement(t *testing.T) {
	v := mustParseJSON(t, `{"a":1}`)
	nv := mustParseJSON(t, `{"b":2}`)

	got, err := Write(v, nil, nv)
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if !Equal(got, nv) {
		t.Error("root write did not replace the snapshot")
	}
}

func TestWrite_preservesKeyOrder(t *testing.T) {
	v := mustParseJSON(t, `{"z":1,"a":2,"m":3}`)

	w, err := Write(v, ParsePath("a"), Number(20))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	out, _ := json.Marshal(w)
	want := `{"z":1,"a":20,"m":3}`
	if string(out) != want {
		t.Errorf("Marshal = %s, want %s", out, want)
	}
}

// --- Coerce ---

func TestCoerce_bool(t *testing.T) {
	for raw, want := range map[any]bool{true: true, false: false, "on": true, "off": false, "true": true, "": false} {
		got, err := Coerce(Bool(false), raw)
		if err != nil {
			t.Fatalf("Coerce(%v) error: %v", raw, err)
		}
		if got.Boolean() != want {
			t.Errorf("Coerce(%v) = %v, want %v", raw, got.Boolean(), want)
		}
	}

	if _, err := Coerce(Bool(false), "maybe"); err == nil {
		t.Error("expected error for non-boolean input")
	}
}

func TestCoerce_number(t *testing.T) {
	got, err := Coerce(Number(1), "2.5")
	if err != nil || got.Num() != 2.5 {
		t.Fatalf("Coerce(\"2.5\") = %v, %v", got.Num(), err)
	}
	got, err = Coerce(Number(1), 7.0)
	if err != nil || got.Num() != 7 {
		t.Fatalf("Coerce(7.0) = %v, %v", got.Num(), err)
	}

	// An unparsable string is a validation error, never NaN.
	if _, err := Coerce(Number(1), "abc"); err == nil {
		t.Error("expected error for non-numeric input")
	}
}

func TestCoerce_string(t *testing.T) {
	got, err := Coerce(String("x"), "hello")
	if err != nil || got.Str() != "hello" {
		t.Fatalf("Coerce = %q, %v", got.Str(), err)
	}
	got, err = Coerce(String("x"), 3.5)
	if err != nil || got.Str() != "3.5" {
		t.Fatalf("Coerce(3.5) = %q, %v", got.Str(), err)
	}
}

func TestCoerce_objectRejected(t *testing.T) {
	v := mustParseJSON(t, `{"a":1}`)
	if _, err := Coerce(v, "x"); err == nil {
		t.Error("expected error when coercing onto a nested section")
	}
}

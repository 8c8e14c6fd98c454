package schema

import (
	"encoding/json"
	"testing"
)

func mustValue(t *testing.T, js string) Value {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(js), &v); err != nil {
		t.Fatalf("unmarshal %s: %v", js, err)
	}
	return ParseValue(v)
}

func TestInfer_Object(t *testing.T) {
	d := Infer(mustValue(t, `{"a":1,"b":"x"}`))
	if d.Kind != KindObjectTag {
		t.Fatalf("kind = %v, want object", d.Kind)
	}
	if len(d.RequiredNames()) != 2 {
		t.Errorf("required = %v, want 2 fields", d.RequiredNames())
	}
	if d.Fields["a"].Kind != KindNumberTag {
		t.Errorf("a kind = %v, want number", d.Fields["a"].Kind)
	}
}

func TestMerge_Associative(t *testing.T) {
	a := Infer(mustValue(t, `{"a":1,"b":"x"}`))
	b := Infer(mustValue(t, `{"a":2,"c":true}`))
	c := Infer(mustValue(t, `{"a":3,"d":null}`))

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))

	if !Equal(left, right) {
		t.Errorf("merge not associative:\nleft=%+v\nright=%+v", left, right)
	}
}

func TestMerge_Commutative(t *testing.T) {
	a := Infer(mustValue(t, `{"a":1,"b":"x"}`))
	b := Infer(mustValue(t, `{"a":2,"c":true}`))

	ab := Merge(a, b)
	ba := Merge(b, a)
	if !Equal(ab, ba) {
		t.Errorf("merge not commutative:\nab=%+v\nba=%+v", ab, ba)
	}
}

func TestMerge_RequiredMonotoneSubset(t *testing.T) {
	a := Infer(mustValue(t, `{"a":1,"b":"x","c":true}`))
	b := Infer(mustValue(t, `{"a":2,"b":"y"}`)) // missing "c"

	merged := Merge(a, b)
	req := merged.RequiredNames()
	for _, name := range req {
		if !a.Required[name] {
			t.Errorf("merged required %q not subset of a.Required", name)
		}
		if !b.Required[name] {
			t.Errorf("merged required %q not subset of b.Required", name)
		}
	}
	for _, name := range req {
		if name == "c" {
			t.Errorf("c should have been relaxed to optional")
		}
	}
}

func TestMerge_NullBecomesNullable(t *testing.T) {
	a := Infer(mustValue(t, `{"a":"x"}`))
	b := Infer(mustValue(t, `{"a":null}`))

	merged := Merge(a, b)
	fa := merged.Fields["a"]
	if fa.Kind != KindStringTag {
		t.Errorf("kind = %v, want string (null collapses into T)", fa.Kind)
	}
	if !fa.Nullable {
		t.Error("expected Nullable=true after merging with null")
	}
	// presence is unaffected: "a" was observed (as null) in both, so still required.
	if !merged.Required["a"] {
		t.Error("field observed (even as null) in both inputs should remain required")
	}
}

func TestMerge_DifferentKindsProduceUnion(t *testing.T) {
	a := Infer(mustValue(t, `"hello"`))
	b := Infer(mustValue(t, `42`))

	merged := Merge(a, b)
	if merged.Kind != KindUnionTag {
		t.Fatalf("kind = %v, want union", merged.Kind)
	}
	if len(merged.Union) != 2 {
		t.Errorf("union branches = %d, want 2", len(merged.Union))
	}
}

func TestMerge_UnionFlattensAndGroupsByKind(t *testing.T) {
	a := Merge(Infer(mustValue(t, `"x"`)), Infer(mustValue(t, `1`)))
	b := Infer(mustValue(t, `"y"`))

	merged := Merge(a, b)
	if merged.Kind != KindUnionTag {
		t.Fatalf("kind = %v, want union", merged.Kind)
	}
	if len(merged.Union) != 2 {
		t.Errorf("union branches = %d, want 2 (string+number, not 3)", len(merged.Union))
	}
}

func TestMerge_ArrayLengthRangeWidens(t *testing.T) {
	a := Infer(mustValue(t, `[1,2]`))
	b := Infer(mustValue(t, `[1,2,3,4,5]`))

	merged := Merge(a, b)
	if merged.LengthMin != 2 || merged.LengthMax != 5 {
		t.Errorf("range = [%d,%d], want [2,5]", merged.LengthMin, merged.LengthMax)
	}
}

func TestInfer_Determinism(t *testing.T) {
	v := mustValue(t, `{"a":[1,2,3],"b":{"c":"d"}}`)
	d1 := Infer(v)
	d2 := Infer(v)
	if !Equal(d1, d2) {
		t.Error("Infer should be deterministic on the same input")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	d := Infer(mustValue(t, `{"a":1,"b":[true,false],"c":{"d":"x"}}`))
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var d2 Descriptor
	if err := json.Unmarshal(data, &d2); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !Equal(d, &d2) {
		t.Errorf("round trip mismatch:\norig=%+v\ngot=%+v", d, d2)
	}
}

func TestIsSubShapeOf(t *testing.T) {
	small := Infer(mustValue(t, `{"a":1}`))
	big := Infer(mustValue(t, `{"a":1,"b":"extra"}`))

	if !IsSubShapeOf(small, big) {
		t.Error("small should be a sub-shape of big")
	}
	if IsSubShapeOf(big, small) {
		t.Error("big should not be a sub-shape of small")
	}
}

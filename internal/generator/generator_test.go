package generator

import (
	"encoding/json"
	"strconv"
	"testing"

	"learnproxy/internal/schema"
)

func inferFrom(t *testing.T, js string) *schema.Descriptor {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(js), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return schema.Infer(schema.ParseValue(v))
}

func TestGenerate_ObjectHasAllFields(t *testing.T) {
	d := inferFrom(t, `{"id":1,"email":"x@y.com","nested":{"count":2}}`)
	g := New(1)
	out := g.Generate(d, nil)
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("Generate returned %T, want map[string]any", out)
	}
	for _, field := range []string{"id", "email", "nested"} {
		if _, ok := m[field]; !ok {
			t.Errorf("missing field %q in generated object", field)
		}
	}
}

func TestGenerate_HeuristicShapes(t *testing.T) {
	d := inferFrom(t, `{"id":"x","email":"a@b.com","status":"active","count":3}`)
	g := New(42)
	out := g.Generate(d, nil).(map[string]any)

	if _, ok := out["id"].(string); !ok {
		t.Errorf("id should generate a string")
	}
	email, ok := out["email"].(string)
	if !ok || len(email) == 0 {
		t.Errorf("email should generate a non-empty string, got %v", out["email"])
	}
	status, ok := out["status"].(string)
	if !ok {
		t.Fatalf("status should generate a string")
	}
	valid := map[string]bool{"active": true, "pending": true, "inactive": true}
	if !valid[status] {
		t.Errorf("status %q not one of active|pending|inactive", status)
	}
	if _, ok := out["count"].(float64); !ok {
		t.Errorf("count should generate a number")
	}
}

func TestGenerate_ArrayBounds(t *testing.T) {
	d := inferFrom(t, `[1,2]`)
	g := New(7)
	for i := 0; i < 20; i++ {
		out := g.Generate(d, nil)
		arr, ok := out.([]any)
		if !ok {
			t.Fatalf("Generate returned %T, want []any", out)
		}
		if len(arr) < 1 || len(arr) > 3 {
			t.Errorf("array length %d outside [1,3]", len(arr))
		}
	}
}

func TestGenerate_ArrayRespectsLengthMin(t *testing.T) {
	d := inferFrom(t, `[1,2,3,4,5]`)
	g := New(3)
	out := g.Generate(d, nil).([]any)
	if len(out) != d.LengthMin {
		t.Errorf("array length = %d, want LengthMin %d", len(out), d.LengthMin)
	}
}

func TestGenerate_EchoRule(t *testing.T) {
	d := inferFrom(t, `{"id":1}`)
	body := schema.ParseValue(map[string]any{"id": float64(999)})
	g := New(5)
	out := g.Generate(d, &body).(map[string]any)
	if out["id"] != float64(999) {
		t.Errorf("id = %v, want echoed 999", out["id"])
	}
}

func TestGenerate_EchoRule_IncompatibleTypeSkipped(t *testing.T) {
	d := inferFrom(t, `{"id":1}`)
	body := schema.ParseValue(map[string]any{"id": "not-a-number"})
	g := New(5)
	out := g.Generate(d, &body).(map[string]any)
	if _, ok := out["id"].(float64); !ok {
		t.Errorf("incompatible echo type should fall back to synthesis, got %T", out["id"])
	}
}

func TestGenerate_UnionSeededPicksFirstNonNull(t *testing.T) {
	str := inferFrom(t, `"x"`)
	num := inferFrom(t, `1`)
	union := schema.Merge(str, num)
	if union.Kind != schema.KindUnionTag || union.Union[0].Kind != schema.KindStringTag {
		t.Fatalf("Merge(string, number) = %+v, want a union with the string branch first", union)
	}

	g := New(1)
	g.Seeded = true
	for i := 0; i < 10; i++ {
		out := g.Generate(union, nil)
		if _, isStr := out.(string); !isStr {
			t.Errorf("Generate = %v (%T), want a string from the first non-null branch", out, out)
		}
	}
}

func TestGenerate_Nil(t *testing.T) {
	g := New(1)
	if out := g.Generate(nil, nil); out != nil {
		t.Errorf("Generate(nil) = %v, want nil", out)
	}
}

func TestMatchHeuristic_CaseInsensitive(t *testing.T) {
	if matchHeuristic("EMAIL") == nil {
		t.Error("EMAIL should match the email heuristic case-insensitively")
	}
	if matchHeuristic("UserEmail") == nil {
		t.Error("UserEmail should match via substring")
	}
}

func TestSampleCache_SetGet(t *testing.T) {
	c := NewSampleCache(4)
	c.Set("sig-a", "value-a")
	v, ok := c.Get("sig-a")
	if !ok || v != "value-a" {
		t.Errorf("Get = (%v, %v), want (value-a, true)", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get on missing key should report false")
	}
}

func TestSampleCache_EvictsUnderCapacity(t *testing.T) {
	c := NewSampleCache(4)
	for i := 0; i < 100; i++ {
		c.Set("sig-"+strconv.Itoa(i), i)
	}
	if len(c.entries) > c.capacity {
		t.Errorf("cache grew to %d entries, want <= %d", len(c.entries), c.capacity)
	}
}

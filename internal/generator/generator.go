// Package generator synthesizes JSON values from a learned schema
// descriptor (§4.3): known field names get realistic-looking values via a
// heuristic table, unknown shapes fall back to generic values by kind, and
// a request body's fields are echoed back where compatible.
package generator

import (
	"math/rand"
	"sort"

	"learnproxy/internal/schema"
)

// Generator synthesizes sample values from schema.Descriptor trees.
//
// Seeded controls union branch selection (§4.3): true picks the first
// non-null branch deterministically (set by tests; the dispatch core leaves
// it false); false weights the pick by each branch's observation Count.
type Generator struct {
	rng    *rand.Rand
	Seeded bool
}

// New returns a Generator seeded from seed. A fixed seed makes every value
// drawn from the generator's rng reproducible; UUID values for id fields
// come from uuid.New and differ on every run regardless of seed.
func New(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Generate produces a JSON-compatible value (the same shapes ParseValue
// accepts: nil, bool, float64, string, []any, map[string]any) matching d.
// requestBody, if non-nil, supplies values for the echo rule: a field name
// shared with a compatible primitive anywhere in requestBody is echoed
// verbatim instead of synthesized.
func (g *Generator) Generate(d *schema.Descriptor, requestBody *schema.Value) any {
	return g.generateNamed("", d, requestBody)
}

func (g *Generator) generateNamed(fieldName string, d *schema.Descriptor, requestBody *schema.Value) any {
	if d == nil {
		return nil
	}

	if fieldName != "" && requestBody != nil {
		if v, ok := echoLookup(fieldName, d.Kind, *requestBody); ok {
			return v
		}
	}

	switch d.Kind {
	case schema.KindNullTag:
		return nil
	case schema.KindBoolTag:
		if gen := matchHeuristic(fieldName); gen != nil {
			if b, ok := gen(g.rng).(bool); ok {
				return b
			}
		}
		return genBool(g.rng)
	case schema.KindNumberTag:
		if gen := matchHeuristic(fieldName); gen != nil {
			if v := gen(g.rng); isNumeric(v) {
				return v
			}
		}
		return genSmallInt(g.rng)
	case schema.KindStringTag:
		if gen := matchHeuristic(fieldName); gen != nil {
			if s, ok := gen(g.rng).(string); ok {
				return s
			}
		}
		return randAlnum(g.rng, 6+g.rng.Intn(7))
	case schema.KindObjectTag:
		return g.generateObject(d, requestBody)
	case schema.KindArrayTag:
		return g.generateArray(d, requestBody)
	case schema.KindUnionTag:
		branch := g.pickBranch(d.Union)
		return g.generateNamed(fieldName, branch, requestBody)
	default:
		return nil
	}
}

func (g *Generator) generateObject(d *schema.Descriptor, requestBody *schema.Value) any {
	out := make(map[string]any, len(d.Fields))
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out[name] = g.generateNamed(name, d.Fields[name], requestBody)
	}
	return out
}

func (g *Generator) generateArray(d *schema.Descriptor, requestBody *schema.Value) any {
	n := 1 + g.rng.Intn(3)
	if d.LengthMin > n {
		n = d.LengthMin
	}
	out := make([]any, n)
	for i := range out {
		out[i] = g.generateNamed("", d.Element, requestBody)
	}
	return out
}

// pickBranch selects a union branch (§4.3): deterministic first-non-null
// when Seeded, else weighted by observation Count.
func (g *Generator) pickBranch(branches []*schema.Descriptor) *schema.Descriptor {
	if len(branches) == 0 {
		return nil
	}
	if g.Seeded {
		for _, br := range branches {
			if br.Kind != schema.KindNullTag {
				return br
			}
		}
		return branches[0]
	}

	total := 0
	for _, br := range branches {
		total += maxInt(br.Count, 1)
	}
	pick := g.rng.Intn(total)
	for _, br := range branches {
		w := maxInt(br.Count, 1)
		if pick < w {
			return br
		}
		pick -= w
	}
	return branches[len(branches)-1]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func isNumeric(v any) bool {
	_, ok := v.(float64)
	return ok
}

// echoLookup implements the §4.3 echo rule: a field in requestBody sharing
// fieldName and a compatible primitive Kind at any depth is returned
// verbatim instead of synthesizing a fresh value.
func echoLookup(fieldName string, kind schema.Kind, body schema.Value) (any, bool) {
	var found any
	var ok bool
	var walk func(v schema.Value)
	walk = func(v schema.Value) {
		if ok {
			return
		}
		switch v.Kind {
		case schema.KindObject:
			if fv, has := v.Obj[fieldName]; has && compatibleKind(fv.Kind, kind) {
				found, ok = rawOf(fv), true
				return
			}
			for _, child := range v.Obj {
				walk(child)
			}
		case schema.KindArray:
			for _, item := range v.Arr {
				walk(item)
			}
		}
	}
	walk(body)
	return found, ok
}

func compatibleKind(vk schema.ValueKind, dk schema.Kind) bool {
	switch dk {
	case schema.KindBoolTag:
		return vk == schema.KindBool
	case schema.KindNumberTag:
		return vk == schema.KindNumber
	case schema.KindStringTag:
		return vk == schema.KindString
	default:
		return false
	}
}

func rawOf(v schema.Value) any {
	switch v.Kind {
	case schema.KindBool:
		return v.Bool
	case schema.KindNumber:
		return v.Num
	case schema.KindString:
		return v.Str
	default:
		return nil
	}
}

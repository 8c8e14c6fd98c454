package schema

// Equal reports whether two descriptors are structurally equal: same
// shape, ignoring observation counts (§3 invariant: "observation counts
// and first-seen differ; shape does not").
func Equal(a, b *Descriptor) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || a.Nullable != b.Nullable {
		return false
	}
	switch a.Kind {
	case KindObjectTag:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for k, fa := range a.Fields {
			fb, ok := b.Fields[k]
			if !ok || !Equal(fa, fb) {
				return false
			}
		}
		if len(a.RequiredNames()) != len(b.RequiredNames()) {
			return false
		}
		for k, req := range a.Required {
			if req != b.Required[k] {
				return false
			}
		}
		return true
	case KindArrayTag:
		return a.LengthMin == b.LengthMin && a.LengthMax == b.LengthMax && Equal(a.Element, b.Element)
	case KindUnionTag:
		if len(a.Union) != len(b.Union) {
			return false
		}
		used := make([]bool, len(b.Union))
		for _, ba := range a.Union {
			found := false
			for i, bb := range b.Union {
				if !used[i] && Equal(ba, bb) {
					used[i] = true
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// IsSubShapeOf reports whether every field/structure present in sub is
// also present (compatibly) in full — used to verify the generator never
// invents fields absent from the schema it was given (§8 property 6:
// learning from generate(S) yields S' that is a superset of S).
func IsSubShapeOf(sub, full *Descriptor) bool {
	if sub == nil {
		return true
	}
	if full == nil {
		return false
	}
	if sub.Kind == KindUnionTag {
		for _, br := range sub.Union {
			if !isBranchCoveredBy(br, full) {
				return false
			}
		}
		return true
	}
	if full.Kind == KindUnionTag {
		return isBranchCoveredBy(sub, full)
	}
	if sub.Kind != full.Kind {
		return false
	}
	switch sub.Kind {
	case KindObjectTag:
		for k, fd := range sub.Fields {
			ffd, ok := full.Fields[k]
			if !ok || !IsSubShapeOf(fd, ffd) {
				return false
			}
		}
		return true
	case KindArrayTag:
		return IsSubShapeOf(sub.Element, full.Element)
	default:
		return true
	}
}

func isBranchCoveredBy(branch, full *Descriptor) bool {
	if full.Kind == KindUnionTag {
		for _, fbr := range full.Union {
			if IsSubShapeOf(branch, fbr) {
				return true
			}
		}
		return false
	}
	return IsSubShapeOf(branch, full)
}

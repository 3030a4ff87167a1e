package snapshot

import "github.com/lazypower/aide/internal/value"

// ChangeType classifies a single diff entry.
type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Removed  ChangeType = "removed"
)

// Diff is one structural difference between two state trees.
type Diff struct {
	Path       []string    `json:"path"`
	Before     value.Value `json:"before"`
	After      value.Value `json:"after"`
	ChangeType ChangeType  `json:"change_type"`
}

// ComputeDiff walks the union of keys at each object level. Arrays are
// compared by serialized form, scalars by equality. Keys are visited in
// sorted order so the output is deterministic.
func ComputeDiff(before, after value.Value) []Diff {
	var out []Diff
	walk(nil, before, after, &out)
	return out
}

func walk(path []string, before, after value.Value, out *[]Diff) {
	bo, bIsObj := before.AsObject()
	ao, aIsObj := after.AsObject()

	switch {
	case bIsObj && aIsObj:
		for _, k := range unionKeys(bo, ao) {
			child := appendPath(path, k)
			bv, inBefore := bo[k]
			av, inAfter := ao[k]
			switch {
			case !inBefore:
				*out = append(*out, Diff{Path: child, Before: value.Null(), After: av.Clone(), ChangeType: Added})
			case !inAfter:
				*out = append(*out, Diff{Path: child, Before: bv.Clone(), After: value.Null(), ChangeType: Removed})
			default:
				walk(child, bv, av, out)
			}
		}
	case before.Kind() == value.KindArray && after.Kind() == value.KindArray:
		if before.Serialize() != after.Serialize() {
			*out = append(*out, modified(path, before, after))
		}
	default:
		if !before.Equal(after) {
			*out = append(*out, modified(path, before, after))
		}
	}
}

func modified(path []string, before, after value.Value) Diff {
	p := make([]string, len(path))
	copy(p, path)
	return Diff{Path: p, Before: before.Clone(), After: after.Clone(), ChangeType: Modified}
}

func appendPath(path []string, k string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, k)
}

func unionKeys(a, b value.Object) []string {
	seen := make(value.Object, len(a)+len(b))
	for k := range a {
		seen[k] = value.Null()
	}
	for k := range b {
		seen[k] = value.Null()
	}
	return seen.Keys()
}

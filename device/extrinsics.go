package device

import "sort"

// Extrinsics is the rigid transform between two streams' reference
// frames: a row-major 3x3 rotation and a translation vector.
type Extrinsics struct {
	Rotation    [9]float64
	Translation [3]float64
}

func (e Extrinsics) toMap() map[string]any {
	return map[string]any{
		"rotation":    floatSlice(e.Rotation[:]),
		"translation": floatSlice(e.Translation[:]),
	}
}

// StreamPair keys an extrinsics entry by its endpoint stream names.
type StreamPair struct {
	From string
	To   string
}

// ExtrinsicsMap holds the device's extrinsics table.
type ExtrinsicsMap map[StreamPair]Extrinsics

// toList serializes the table as [from, to, transform] triples in a
// deterministic order, so replayed discovery is byte-identical.
func (em ExtrinsicsMap) toList() []any {
	pairs := make([]StreamPair, 0, len(em))
	for p := range em {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].From != pairs[j].From {
			return pairs[i].From < pairs[j].From
		}
		return pairs[i].To < pairs[j].To
	})

	out := make([]any, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, []any{p.From, p.To, em[p].toMap()})
	}
	return out
}

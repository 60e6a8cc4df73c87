package attribution

import (
	"fmt"
	"slices"
	"strings"
	"testing"
)

// idDecoder renders ids as space-separated numbers.
type idDecoder struct{}

func (idDecoder) Decode(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, " ")
}

func seq(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func TestTrimContext(t *testing.T) {
	tests := []struct {
		name         string
		ids          []int
		needleOffset int
		spanLength   int
		radius       int
		want         ContextWindow
	}{
		{
			name:         "leading and trailing cut",
			ids:          seq(12),
			needleOffset: 5,
			spanLength:   2,
			radius:       3,
			want:         ContextWindow{DisplayLength: 8, NeedleOffset: 3, Text: "2 3 4 5 6 7 8 9"},
		},
		{
			name:         "fits already",
			ids:          seq(6),
			needleOffset: 2,
			spanLength:   2,
			radius:       3,
			want:         ContextWindow{DisplayLength: 6, NeedleOffset: 2, Text: "0 1 2 3 4 5"},
		},
		{
			name:         "tail only",
			ids:          seq(10),
			needleOffset: 0,
			spanLength:   1,
			radius:       2,
			want:         ContextWindow{DisplayLength: 3, NeedleOffset: 0, Text: "0 1 2"},
		},
		{
			name:         "needle at end",
			ids:          seq(10),
			needleOffset: 8,
			spanLength:   2,
			radius:       1,
			want:         ContextWindow{DisplayLength: 3, NeedleOffset: 1, Text: "7 8 9"},
		},
		{
			name:         "offset past the window",
			ids:          seq(4),
			needleOffset: 9,
			spanLength:   2,
			radius:       1,
			want:         ContextWindow{DisplayLength: 0, NeedleOffset: 1, Text: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := slices.Clone(tt.ids)
			got := TrimContext(idDecoder{}, tt.ids, tt.needleOffset, tt.spanLength, tt.radius)
			if got != tt.want {
				t.Errorf("TrimContext() = %+v, want %+v", got, tt.want)
			}
			if !slices.Equal(tt.ids, before) {
				t.Errorf("input modified: %v", tt.ids)
			}
		})
	}
}

func TestTrimContext_Bounds(t *testing.T) {
	for radius := 0; radius < 6; radius++ {
		for offset := 0; offset+2 <= 10; offset++ {
			got := TrimContext(idDecoder{}, seq(10), offset, 2, radius)
			if got.NeedleOffset > radius {
				t.Errorf("radius %d offset %d: needle offset %d", radius, offset, got.NeedleOffset)
			}
			if tail := got.DisplayLength - got.NeedleOffset - 2; tail > radius {
				t.Errorf("radius %d offset %d: tail %d", radius, offset, tail)
			}
		}
	}
}

package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zanz1n/stunning-waffle/common"
)

func seqs(evs []common.Event) []uint64 {
	out := make([]uint64, len(evs))
	for i, ev := range evs {
		out[i] = ev.Seq
	}
	return out
}

func TestHistory(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		added int
		limit int
		want  []uint64
	}{
		{"empty", 3, 0, 0, []uint64{}},
		{"partial", 3, 2, 0, []uint64{1, 2}},
		{"exactly full", 3, 3, 0, []uint64{1, 2, 3}},
		{"wrapped", 3, 5, 0, []uint64{3, 4, 5}},
		{"limit", 3, 5, 2, []uint64{4, 5}},
		{"limit above size", 3, 2, 10, []uint64{1, 2}},
		{"disabled", 0, 4, 0, []uint64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHistory(tt.size)
			for i := 1; i <= tt.added; i++ {
				h.add(common.Event{Seq: uint64(i)})
			}
			assert.Equal(t, tt.want, seqs(h.last(tt.limit)))
		})
	}
}

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPauseStats(t *testing.T) {
	msgs := []Message{{Timestamp: 100}, {Timestamp: 101}, {Timestamp: 110}, {Timestamp: 111}}
	stats := NewPauseStats(2, msgs)

	assert.Equal(t, int64(2), stats.AveragePause)
	assert.Equal(t, []int64{0, 1, 9, 1}, stats.Gaps)
	assert.Equal(t, 1, stats.LongPauses())
}

func TestPauseStats_LongPauses(t *testing.T) {
	tests := []struct {
		name    string
		average int64
		ts      []int64
		want    int
	}{
		{"no messages", 5, nil, -1},
		{"single message", 0, []int64{42}, 0},
		{"equal to average is not long", 10, []int64{0, 10, 20}, 0},
		{"zero average counts every real gap", 0, []int64{0, 1, 1, 3}, 2},
		{"negative average counts the first gap too", -1, []int64{5, 6}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msgs []Message
			for _, ts := range tt.ts {
				msgs = append(msgs, Message{Timestamp: ts})
			}
			assert.Equal(t, tt.want, NewPauseStats(tt.average, msgs).LongPauses())
		})
	}
}

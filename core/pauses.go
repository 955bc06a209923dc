package core

// PauseStats describes the gaps between consecutive messages of a time window
// measured against a room's lifetime average gap.
type PauseStats struct {
	// AveragePause is the room's lifetime average gap in millis.
	AveragePause int64 `json:"averagePause"`
	// Gaps holds one entry per message in the window. The first entry is
	// always 0 since the first message is its own reference point.
	Gaps []int64 `json:"gaps"`
}

// NewPauseStats computes the gaps of messages, which must be ordered by timestamp.
func NewPauseStats(averagePause int64, messages []Message) *PauseStats {
	stats := &PauseStats{AveragePause: averagePause}
	if len(messages) == 0 {
		return stats
	}
	stats.Gaps = make([]int64, len(messages))
	prev := messages[0].Timestamp
	for i, m := range messages {
		stats.Gaps[i] = m.Timestamp - prev
		prev = m.Timestamp
	}
	return stats
}

// LongPauses counts gaps strictly greater than the average.
// Returns -1 when the window held no messages.
func (s *PauseStats) LongPauses() int {
	if len(s.Gaps) == 0 {
		return -1
	}
	n := 0
	for _, gap := range s.Gaps {
		if gap > s.AveragePause {
			n++
		}
	}
	return n
}

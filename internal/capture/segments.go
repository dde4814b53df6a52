package capture

import (
	"sync"

	"github.com/lexiqai/transcription-gateway/internal/protocol"
)

// DefaultHistoryLimit bounds the transcript kept on the client.
const DefaultHistoryLimit = 1000

// SegmentLog is the client's ordered transcript, deduplicated by segment id
// and capped to the most recent entries.
type SegmentLog struct {
	mu       sync.RWMutex
	limit    int
	segments []protocol.Segment
	base     int            // absolute position of segments[0]
	index    map[string]int // id to absolute position
}

// NewSegmentLog creates a log holding at most limit segments
func NewSegmentLog(limit int) *SegmentLog {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &SegmentLog{limit: limit, index: make(map[string]int)}
}

// Apply replaces the segment sharing seg.ID in place, or appends it.
// It reports whether an existing entry was replaced.
func (l *SegmentLog) Apply(seg protocol.Segment) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pos, ok := l.index[seg.ID]; ok {
		l.segments[pos-l.base] = seg
		return true
	}
	l.index[seg.ID] = l.base + len(l.segments)
	l.segments = append(l.segments, seg)
	l.truncate()
	return false
}

// ReplaceAll swaps the whole transcript, keeping the last occurrence of each id.
func (l *SegmentLog) ReplaceAll(segs []protocol.Segment) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.segments = nil
	l.base = 0
	l.index = make(map[string]int, len(segs))
	for _, seg := range segs {
		if i, ok := l.index[seg.ID]; ok {
			l.segments[i] = seg
			continue
		}
		l.index[seg.ID] = len(l.segments)
		l.segments = append(l.segments, seg)
	}
	l.truncate()
}

// truncate drops the oldest entries beyond the limit by advancing the front
// of the slice; append reclaims the space when it next grows. l.mu must be held.
func (l *SegmentLog) truncate() {
	excess := len(l.segments) - l.limit
	if excess <= 0 {
		return
	}
	for _, seg := range l.segments[:excess] {
		delete(l.index, seg.ID)
	}
	clear(l.segments[:excess])
	l.segments = l.segments[excess:]
	l.base += excess
}

// Segments returns a copy of the transcript in order.
func (l *SegmentLog) Segments() []protocol.Segment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]protocol.Segment, len(l.segments))
	copy(out, l.segments)
	return out
}

func (l *SegmentLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.segments)
}

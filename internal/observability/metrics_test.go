package observability

import "testing"

func TestSessionMetrics_QueueAccounting(t *testing.T) {
	m := NewSessionMetrics("mock")
	m.RecordSessionStart()

	for i := 0; i < 4; i++ {
		m.RecordChunkQueued(100)
	}
	m.RecordChunkDequeued()
	if m.QueueDepth() != 3 {
		t.Fatalf("Expected queue depth 3, got %d", m.QueueDepth())
	}

	m.RecordChunksDropped(5)
	if m.QueueDepth() != 0 {
		t.Errorf("Expected queue depth 0 after drop, got %d", m.QueueDepth())
	}

	m.RecordChunkDequeued()
	if m.QueueDepth() != 0 {
		t.Errorf("Expected queue depth to stay at 0, got %d", m.QueueDepth())
	}
	m.RecordSessionEnd()
}

func TestSessionMetrics_BackendTiming(t *testing.T) {
	m := NewSessionMetrics("mock")
	m.RecordBackendStart()
	m.RecordBackendEnd(true)
	m.RecordBackendEnd(false)
	m.RecordSegments(2)
	m.RecordError("backend", "stream")
}

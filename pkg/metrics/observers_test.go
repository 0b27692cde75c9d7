package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestJSONLObserverWritesLatencyValue(t *testing.T) {
	var buf bytes.Buffer
	obs := NewJSONLObserver(&buf)

	tags := map[string]string{"session_id": "s1", "turn_id": "t1"}
	obs.RecordEvent(MetricsEvent{Name: LatencyFirstAudio, Time: time.Now(), Value: 240, Tags: tags})
	obs.RecordEvent(MetricsEvent{Name: EventTurnEnd, Time: time.Now(), Tags: tags})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var sample map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &sample); err != nil {
		t.Fatalf("line not valid JSON: %v", err)
	}
	if sample["name"] != LatencyFirstAudio || sample["value_ms"] != float64(240) {
		t.Fatalf("unexpected latency line: %v", sample)
	}
	if sample["session_id"] != "s1" {
		t.Fatalf("tags missing from line: %v", sample)
	}

	var event map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &event); err != nil {
		t.Fatalf("line not valid JSON: %v", err)
	}
	if _, ok := event["value_ms"]; ok {
		t.Fatalf("discrete event must not carry value_ms: %v", event)
	}
}

func TestSamplingObserverAlwaysPassesTurnBoundaries(t *testing.T) {
	mem := NewMemoryObserver()
	obs := NewSamplingObserver(mem, 0.1)

	for i := 0; i < 5; i++ {
		obs.RecordEvent(MetricsEvent{Name: EventTurnEnd, Time: time.Now()})
		obs.RecordEvent(MetricsEvent{Name: LatencyTurnE2E, Time: time.Now(), Value: 1000})
		obs.RecordEvent(MetricsEvent{Name: EventUserInterrupted, Time: time.Now()})
	}
	if n := len(mem.Named(EventTurnEnd)); n != 5 {
		t.Fatalf("turn_end must bypass sampling, got %d of 5", n)
	}
	if n := len(mem.Named(LatencyTurnE2E)); n != 5 {
		t.Fatalf("turn e2e latency must bypass sampling, got %d of 5", n)
	}
	if n := len(mem.Named(EventUserInterrupted)); n != 5 {
		t.Fatalf("interruptions must bypass sampling, got %d of 5", n)
	}
}

func TestSamplingObserverThinsOtherEvents(t *testing.T) {
	mem := NewMemoryObserver()
	obs := NewSamplingObserver(mem, 0.1)

	for i := 0; i < 100; i++ {
		obs.RecordEvent(MetricsEvent{Name: EventSTTFinal, Time: time.Now()})
	}
	if n := len(mem.Named(EventSTTFinal)); n != 10 {
		t.Fatalf("expected 1-in-10 sampling, got %d of 100", n)
	}
}

func TestAsyncObserverDrainsOnClose(t *testing.T) {
	mem := NewMemoryObserver()
	obs := NewAsyncObserver(mem, 64)

	for i := 0; i < 50; i++ {
		obs.RecordEvent(MetricsEvent{Name: EventSTTFinal, Time: time.Now()})
	}
	obs.Close()

	// Close returns only after the buffer reached the inner observer.
	if n := len(mem.Named(EventSTTFinal)); n != 50 {
		t.Fatalf("expected all 50 events delivered after close, got %d", n)
	}
	if obs.Dropped() != 0 {
		t.Fatalf("nothing should drop below the buffer size, got %d", obs.Dropped())
	}

	obs.RecordEvent(MetricsEvent{Name: EventSTTFinal, Time: time.Now()})
	if n := len(mem.Named(EventSTTFinal)); n != 50 {
		t.Fatal("events after close must be ignored")
	}
}

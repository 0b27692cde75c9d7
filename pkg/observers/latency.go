package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ovelia/duplex/pkg/metrics"
)

// TurnLatencyObserver folds the per-turn latency events emitted by the
// orchestrator into a single summary log line once the turn ends.
type TurnLatencyObserver struct {
	mu    sync.Mutex
	turns map[string]*turnTrace
	log   *slog.Logger
}

type turnTrace struct {
	sessionID  string
	firstToken time.Time
	firstAudio time.Time
	turnEnd    time.Time
	ttftMS     float64
	ttfbMS     float64
	e2eMS      float64
}

func NewTurnLatencyObserver(log *slog.Logger) *TurnLatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &TurnLatencyObserver{
		turns: make(map[string]*turnTrace),
		log:   log,
	}
}

func (o *TurnLatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	turnID := ""
	if ev.Tags != nil {
		turnID = ev.Tags["turn_id"]
	}
	if turnID == "" {
		return
	}
	o.mu.Lock()
	t := o.turns[turnID]
	if t == nil {
		t = &turnTrace{}
		o.turns[turnID] = t
	}
	if t.sessionID == "" && ev.Tags != nil {
		t.sessionID = ev.Tags["session_id"]
	}
	switch ev.Name {
	case metrics.LatencyFirstToken:
		if t.firstToken.IsZero() {
			t.firstToken = ev.Time
			t.ttftMS = ev.Value
		}
	case metrics.LatencyFirstAudio:
		if t.firstAudio.IsZero() {
			t.firstAudio = ev.Time
			t.ttfbMS = ev.Value
		}
	case metrics.LatencyTurnE2E:
		t.turnEnd = ev.Time
		t.e2eMS = ev.Value
	}
	if !t.turnEnd.IsZero() {
		o.logTurnLocked(turnID, t)
		delete(o.turns, turnID)
	}
	o.mu.Unlock()
}

func (o *TurnLatencyObserver) logTurnLocked(turnID string, t *turnTrace) {
	o.log.Info("turn_latency",
		"turn_id", turnID,
		"session_id", t.sessionID,
		"ttft_ms", t.ttftMS,
		"ttfb_ms", t.ttfbMS,
		"e2e_ms", t.e2eMS,
	)
}

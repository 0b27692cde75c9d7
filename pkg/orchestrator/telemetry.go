package orchestrator

import (
	"time"

	"github.com/ovelia/duplex/pkg/metrics"
)

// turnTags returns the session/turn identity tags attached to every sample.
func (o *Orchestrator) turnTags() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return map[string]string{
		"session_id": o.sessionID,
		"turn_id":    o.turnID,
	}
}

func (o *Orchestrator) recordEvent(name string, fields map[string]any) {
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Tags:   o.turnTags(),
		Fields: fields,
	})
}

package metrics

import (
	"context"
	"io"
	"log/slog"
)

// JSONLObserver appends one JSON line per event, the on-disk form the
// latency tooling reads back. Latency samples carry value_ms; discrete
// turn events omit the value entirely.
type JSONLObserver struct {
	logger *slog.Logger
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	attrs := make([]slog.Attr, 0, 3+len(ev.Tags)+len(ev.Fields))
	// The handler stamps its own "time" at write; "at" is when the event
	// actually happened, which differs once the async buffer is involved.
	attrs = append(attrs,
		slog.String("name", ev.Name),
		slog.Time("at", ev.Time),
	)
	if ev.Value != 0 {
		attrs = append(attrs, slog.Float64("value_ms", ev.Value))
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.logger.LogAttrs(context.Background(), slog.LevelInfo, "metric", attrs...)
}

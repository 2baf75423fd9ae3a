package metrics

import (
	"docbot/internal/bus"
)

// Recorder turns monitoring events into metrics.
type Recorder struct {
	events *bus.EventBus
	id     string
}

// Attach subscribes a Recorder to every event on the bus.
func Attach(events *bus.EventBus) *Recorder {
	r := &Recorder{events: events}
	r.id = events.On("*", r.observe)
	return r
}

// Detach removes the subscription.
func (r *Recorder) Detach() {
	r.events.Off("*", r.id)
}

func (r *Recorder) observe(e bus.Event) {
	switch e.Type {
	case bus.EventReceived:
		EventsTotal.Inc()
	case bus.EventExtractionCompleted:
		ExtractionsTotal("ok", "").Inc()
		observeExtraction(e)
		if b, ok := number(e.Payload["bytes"]); ok {
			DocumentBytes.Observe(b)
		}
	case bus.EventExtractionFailed:
		kind, _ := e.Payload["kind"].(string)
		ExtractionsTotal("failed", kind).Inc()
		observeExtraction(e)
	case bus.EventQuotaExceeded:
		QuotaRejections.Inc()
	case bus.EventReplySent:
		RepliesTotal(str(e.Payload["channel"]), "sent").Inc()
	case bus.EventReplyFailed:
		RepliesTotal(str(e.Payload["channel"]), "failed").Inc()
	}
}

func observeExtraction(e bus.Event) {
	if ms, ok := number(e.Payload["latency_ms"]); ok {
		ExtractionLatency.Observe(ms / 1000)
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

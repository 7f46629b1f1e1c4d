package dispatch

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// DebugHandler 返回 /debug/dispatch 所需的 handler。
func (d *Dispatcher) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snapshot := d.snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	})
}

type laneSnapshot struct {
	Topic    string `json:"topic"`
	Queued   int    `json:"queued"`
	InFlight int    `json:"inFlight"`
}

type debugSnapshot struct {
	Lanes     []laneSnapshot `json:"lanes"`
	MaxQueue  int            `json:"maxQueue"`
	RateLimit float64        `json:"rateLimit"`
	Handlers  []string       `json:"handlers"`
	Timestamp time.Time      `json:"timestamp"`
}

func (d *Dispatcher) snapshot() debugSnapshot {
	snap := debugSnapshot{MaxQueue: d.cfg.MaxQueue, Timestamp: time.Now()}
	d.mu.Lock()
	snap.RateLimit = d.rateLimit
	snap.Lanes = make([]laneSnapshot, 0, len(d.lanes))
	for topic, l := range d.lanes {
		snap.Lanes = append(snap.Lanes, laneSnapshot{Topic: topic, Queued: len(l.tasks), InFlight: len(l.inflight)})
	}
	d.mu.Unlock()
	for method := range d.handlers {
		snap.Handlers = append(snap.Handlers, method)
	}
	sort.Strings(snap.Handlers)
	sort.Slice(snap.Lanes, func(i, j int) bool { return snap.Lanes[i].Topic < snap.Lanes[j].Topic })
	return snap
}

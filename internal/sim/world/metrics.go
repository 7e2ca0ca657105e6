package world

import "time"

type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Components    int `json:"components"`
	OccupiedCells int `json:"occupied_cells"`
	Observers     int `json:"observers"`

	QueueDepths QueueDepths `json:"queue_depths"`

	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Dropped  uint64 `json:"dropped"`

	StepMS float64 `json:"step_ms"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

func (w *World) publishMetrics(stepDur time.Duration) {
	w.metrics.Store(WorldMetrics{
		Tick:          w.tick.Load(),
		Components:    len(w.comps),
		OccupiedCells: w.grid.CountOccupied(),
		Observers:     len(w.observers),
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.observerJoin),
			Leave: len(w.observerLeave),
		},
		Accepted: w.accepted,
		Rejected: w.rejected,
		Dropped:  w.dropped,
		StepMS:   float64(stepDur.Microseconds()) / 1000.0,
	})
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

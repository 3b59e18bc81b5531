package efficiency

import (
	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
)

// Anomaly is an interval left undefined because of inconsistent data, kept for
// data-quality review.
type Anomaly struct {
	EventID     string `json:"event_id"`
	VehicleRef  string `json:"vehicle_ref"`
	NextEventID string `json:"next_event_id"`
	Cause       Cause  `json:"cause"`
}

// Anomalies lists the data anomalies in series. events and series must be aligned.
func Anomalies(events []v1.FuelEvent, series []Interval) []Anomaly {
	var out []Anomaly
	for i, iv := range series {
		if i >= len(events) || !iv.Undefined.IsAnomaly() {
			continue
		}
		out = append(out, Anomaly{
			EventID:     iv.EventID,
			VehicleRef:  events[i].VehicleRef,
			NextEventID: iv.NextEventID,
			Cause:       iv.Undefined,
		})
	}
	return out
}

//
//
package record

import "time"

// Row is the flat snake_case shape of a record used by the
// /processed_agent_data/ routes and the /ws/{agentId} push.
type Row struct {
	ID        int64     `json:"id"`
	RoadState string    `json:"road_state"`
	UserID    int64     `json:"user_id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Row flattens r.
func (r Record) Row() Row {
	return Row{
		ID:        r.ID,
		RoadState: r.RoadState,
		UserID:    r.AgentID,
		X:         r.Accelerometer.X,
		Y:         r.Accelerometer.Y,
		Z:         r.Accelerometer.Z,
		Latitude:  r.GPS.Latitude,
		Longitude: r.GPS.Longitude,
		Timestamp: r.Timestamp,
	}
}

// Record is the inverse of Record.Row.
func (row Row) Record() Record {
	return Record{
		ID:            row.ID,
		RoadState:     row.RoadState,
		AgentID:       row.UserID,
		Accelerometer: Accelerometer{X: row.X, Y: row.Y, Z: row.Z},
		GPS:           GPS{Latitude: row.Latitude, Longitude: row.Longitude},
		Timestamp:     row.Timestamp,
	}
}

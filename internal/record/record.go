//
//
package record

import (
	"time"
)

// Accelerometer holds the three-axis motion sample.
type Accelerometer struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// GPS holds the position sample.
type GPS struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Record is a processed telemetry sample as committed by the store.
type Record struct {
	ID            int64         `json:"id"`
	RoadState     string        `json:"roadState"`
	AgentID       int64         `json:"agentId"`
	Accelerometer Accelerometer `json:"accelerometer"`
	GPS           GPS           `json:"gps"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Input is the create/update payload. Pointer fields distinguish "absent"
// from the zero value so validation can require them.
type Input struct {
	AgentID       *int64         `json:"agentId" validate:"required,gte=0"`
	Accelerometer *Accelerometer `json:"accelerometer" validate:"required"`
	GPS           *GPS           `json:"gps" validate:"required"`
	Timestamp     string         `json:"timestamp,omitempty"`
	RoadState     string         `json:"roadState" validate:"required,max=64"`
}

// ToRecord validates the input and builds an uncommitted Record (ID 0).
//
// The timestamp, when present, must parse as ISO-8601 even though it is
// replaced by now unless preserveClient is set.
func (in Input) ToRecord(now time.Time, preserveClient bool) (Record, error) {
	if err := Validate(in); err != nil {
		return Record{}, err
	}

	ts := now.UTC()
	if in.Timestamp != "" {
		parsed, err := ParseTimestamp(in.Timestamp)
		if err != nil {
			return Record{}, &ValidationError{Field: "timestamp", Reason: err.Error()}
		}
		if preserveClient {
			ts = parsed
		}
	}

	return Record{
		RoadState:     in.RoadState,
		AgentID:       *in.AgentID,
		Accelerometer: *in.Accelerometer,
		GPS:           *in.GPS,
		Timestamp:     ts,
	}, nil
}

// Apply overwrites the mutable fields of r with the input. The id is kept,
// and so is the timestamp when the input carries none.
func (in Input) Apply(r Record) (Record, error) {
	if err := Validate(in); err != nil {
		return Record{}, err
	}

	r.RoadState = in.RoadState
	r.AgentID = *in.AgentID
	r.Accelerometer = *in.Accelerometer
	r.GPS = *in.GPS
	if in.Timestamp != "" {
		ts, err := ParseTimestamp(in.Timestamp)
		if err != nil {
			return Record{}, &ValidationError{Field: "timestamp", Reason: err.Error()}
		}
		r.Timestamp = ts
	}
	return r, nil
}

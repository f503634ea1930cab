package points

import "time"

type Kind string

const (
	KindEvent   Kind = "event"
	KindSession Kind = "session"
)

// column names the foreign key a kind of parent is stored under.
func (k Kind) column() (string, bool) {
	switch k {
	case KindEvent:
		return "event_id", true
	case KindSession:
		return "session_id", true
	}
	return "", false
}

// Parent addresses the owner of a point stream.
type Parent struct {
	Kind Kind
	ID   string
}

func EventParent(id string) Parent   { return Parent{Kind: KindEvent, ID: id} }
func SessionParent(id string) Parent { return Parent{Kind: KindSession, ID: id} }

type Order int

const (
	Ascending Order = iota
	Descending
)

// Point is the transfer shape of a location fix. Latitude precedes
// longitude here; storage builds geometry as (longitude, latitude).
// Nil optional fields are absent, not zero.
type Point struct {
	ID           int64     `json:"id,omitempty"`
	Latitude     float64   `json:"latitude" validate:"latitude"`
	Longitude    float64   `json:"longitude" validate:"longitude"`
	Accuracy     *float64  `json:"accuracy" validate:"omitempty,min=0"`
	Altitude     *float64  `json:"altitude"`
	Speed        *float64  `json:"speed" validate:"omitempty,min=0"`
	Heading      *float64  `json:"heading" validate:"omitempty,min=0,max=360"`
	Timestamp    time.Time `json:"timestamp" validate:"required"`
	BatteryLevel *int      `json:"battery_level,omitempty" validate:"omitempty,min=0,max=100"`
}

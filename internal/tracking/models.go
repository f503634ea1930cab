package tracking

import (
	"time"

	"backend-safetrack/internal/points"
)

type SessionType string

const (
	TypeWalk    SessionType = "walk"
	TypeCommute SessionType = "commute"
	TypeTaxi    SessionType = "taxi"
	TypeOther   SessionType = "other"
)

type Session struct {
	ID              string      `json:"id"`
	OwnerID         string      `json:"user_id"`
	Name            *string     `json:"name"`
	Description     *string     `json:"description"`
	SessionType     SessionType `json:"path_type"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         *time.Time  `json:"end_time"`
	IsActive        bool        `json:"is_active"`
	TotalDistanceM  *float64    `json:"total_distance_meters"`
	AverageSpeedMps *float64    `json:"average_speed_mps"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Detail is a session with its full point replay in capture order.
type Detail struct {
	Session
	Points []points.Point `json:"points"`
}

type StartInput struct {
	Name        *string     `json:"name" validate:"omitempty,max=200"`
	Description *string     `json:"description"`
	SessionType SessionType `json:"path_type" validate:"omitempty,oneof=walk commute taxi other"`
}

type UpdateInput struct {
	Name        *string `json:"name" validate:"omitempty,max=200"`
	Description *string `json:"description"`
}

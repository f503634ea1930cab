package antitheft

import "time"

type Status string

const (
	StatusActive      Status = "active"
	StatusDeactivated Status = "deactivated"
)

type Config struct {
	ID                       string    `json:"id"`
	OwnerID                  string    `json:"user_id"`
	IsEnabled                bool      `json:"is_enabled"`
	EnableGPSTracking        bool      `json:"enable_gps_tracking"`
	EnableAudioRecording     bool      `json:"enable_audio_recording"`
	EnableVideoRecording     bool      `json:"enable_video_recording"`
	TrackingIntervalSeconds  int       `json:"tracking_interval_seconds"`
	RecordingDurationMinutes int       `json:"recording_duration_minutes"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// SetupInput replaces the whole configuration. Start from DefaultSetup so
// omitted JSON fields keep their defaults.
type SetupInput struct {
	TriggerKeyword           string `json:"trigger_keyword" validate:"min=4,max=100"`
	IsEnabled                bool   `json:"is_enabled"`
	EnableGPSTracking        bool   `json:"enable_gps_tracking"`
	EnableAudioRecording     bool   `json:"enable_audio_recording"`
	EnableVideoRecording     bool   `json:"enable_video_recording"`
	TrackingIntervalSeconds  int    `json:"tracking_interval_seconds" validate:"min=5,max=3600"`
	RecordingDurationMinutes int    `json:"recording_duration_minutes" validate:"min=1,max=30"`
}

func DefaultSetup() SetupInput {
	return SetupInput{
		IsEnabled:                true,
		EnableGPSTracking:        true,
		EnableAudioRecording:     true,
		TrackingIntervalSeconds:  30,
		RecordingDurationMinutes: 5,
	}
}

// UpdateInput patches an existing configuration; nil fields are untouched.
type UpdateInput struct {
	TriggerKeyword           *string `json:"trigger_keyword" validate:"omitempty,min=4,max=100"`
	IsEnabled                *bool   `json:"is_enabled"`
	EnableGPSTracking        *bool   `json:"enable_gps_tracking"`
	EnableAudioRecording     *bool   `json:"enable_audio_recording"`
	EnableVideoRecording     *bool   `json:"enable_video_recording"`
	TrackingIntervalSeconds  *int    `json:"tracking_interval_seconds" validate:"omitempty,min=5,max=3600"`
	RecordingDurationMinutes *int    `json:"recording_duration_minutes" validate:"omitempty,min=1,max=30"`
}

type TriggerInput struct {
	TriggeredBy string `json:"triggered_by" validate:"required,max=20"`
	IsTest      bool   `json:"is_test"`
}

type Event struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"user_id"`
	TriggeredBy   string     `json:"triggered_by"`
	TriggerTime   time.Time  `json:"trigger_time"`
	Status        Status     `json:"status"`
	IsTest        bool       `json:"is_test"`
	DeactivatedAt *time.Time `json:"deactivated_at"`
	Notes         *string    `json:"notes,omitempty"`
}

func (e Event) Active() bool {
	return e.Status == StatusActive
}

// Package antitheft owns the anti-theft configuration and the event
// lifecycle: an owner arms the trigger once, each trigger opens a new
// active event and deactivation closes it for good.
package antitheft

import (
	"context"
	"strconv"
	"time"

	"backend-safetrack/internal/db"
	"backend-safetrack/internal/logger"
	"backend-safetrack/internal/metrics"
	"backend-safetrack/internal/notify"
	"backend-safetrack/internal/points"
	"backend-safetrack/internal/shared/apperr"
	"backend-safetrack/internal/stream"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200

	lockScope = "event"
)

var bcryptCost = bcrypt.DefaultCost

const configColumns = `id, owner_id, is_enabled, enable_gps_tracking, enable_audio_recording, enable_video_recording, tracking_interval_seconds, recording_duration_minutes, created_at, updated_at`

const eventColumns = `id, owner_id, triggered_by, trigger_time, status, is_test, deactivated_at, notes`

type Service struct {
	db        db.Querier
	ledger    *points.Ledger
	hub       *stream.Hub
	publisher notify.Publisher
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(db db.Querier, ledger *points.Ledger, hub *stream.Hub, publisher notify.Publisher) *Service {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Service{
		db:        db,
		ledger:    ledger,
		hub:       hub,
		publisher: publisher,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Setup creates or replaces the owner's configuration.
func (s *Service) Setup(ctx context.Context, ownerID string, in SetupInput) (Config, error) {
	if err := s.validate.Struct(in); err != nil {
		return Config{}, apperr.FromValidation(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.TriggerKeyword), bcryptCost)
	if err != nil {
		return Config{}, err
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO anti_theft_configs (id, owner_id, trigger_phrase_hash, is_enabled, enable_gps_tracking, enable_audio_recording, enable_video_recording, tracking_interval_seconds, recording_duration_minutes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		ON CONFLICT (owner_id) DO UPDATE SET
			trigger_phrase_hash = EXCLUDED.trigger_phrase_hash,
			is_enabled = EXCLUDED.is_enabled,
			enable_gps_tracking = EXCLUDED.enable_gps_tracking,
			enable_audio_recording = EXCLUDED.enable_audio_recording,
			enable_video_recording = EXCLUDED.enable_video_recording,
			tracking_interval_seconds = EXCLUDED.tracking_interval_seconds,
			recording_duration_minutes = EXCLUDED.recording_duration_minutes,
			updated_at = EXCLUDED.updated_at
		RETURNING `+configColumns,
		uuid.NewString(), ownerID, string(hash), in.IsEnabled, in.EnableGPSTracking, in.EnableAudioRecording,
		in.EnableVideoRecording, in.TrackingIntervalSeconds, in.RecordingDurationMinutes, s.now().UTC())
	return scanConfig(row)
}

func (s *Service) Config(ctx context.Context, ownerID string) (Config, error) {
	row := s.db.QueryRow(ctx, `SELECT `+configColumns+` FROM anti_theft_configs WHERE owner_id=$1`, ownerID)
	cfg, err := scanConfig(row)
	if db.IsNoRows(err) {
		return Config{}, apperr.NotFound("anti-theft configuration not found")
	}
	return cfg, err
}

// UpdateConfig applies the non-nil fields of in to an existing configuration.
func (s *Service) UpdateConfig(ctx context.Context, ownerID string, in UpdateInput) (Config, error) {
	if err := s.validate.Struct(in); err != nil {
		return Config{}, apperr.FromValidation(err)
	}
	var hash *string
	if in.TriggerKeyword != nil {
		b, err := bcrypt.GenerateFromPassword([]byte(*in.TriggerKeyword), bcryptCost)
		if err != nil {
			return Config{}, err
		}
		h := string(b)
		hash = &h
	}

	row := s.db.QueryRow(ctx, `
		UPDATE anti_theft_configs SET
			trigger_phrase_hash = COALESCE($2, trigger_phrase_hash),
			is_enabled = COALESCE($3, is_enabled),
			enable_gps_tracking = COALESCE($4, enable_gps_tracking),
			enable_audio_recording = COALESCE($5, enable_audio_recording),
			enable_video_recording = COALESCE($6, enable_video_recording),
			tracking_interval_seconds = COALESCE($7, tracking_interval_seconds),
			recording_duration_minutes = COALESCE($8, recording_duration_minutes),
			updated_at = $9
		WHERE owner_id=$1
		RETURNING `+configColumns,
		ownerID, hash, in.IsEnabled, in.EnableGPSTracking, in.EnableAudioRecording, in.EnableVideoRecording,
		in.TrackingIntervalSeconds, in.RecordingDurationMinutes, s.now().UTC())
	cfg, err := scanConfig(row)
	if db.IsNoRows(err) {
		return Config{}, apperr.NotFound("anti-theft configuration not found")
	}
	return cfg, err
}

// Enabled reports the owner's is_enabled flag; an owner without a
// configuration is not enabled.
func (s *Service) Enabled(ctx context.Context, ownerID string) (bool, error) {
	var enabled bool
	err := s.db.QueryRow(ctx, `SELECT is_enabled FROM anti_theft_configs WHERE owner_id=$1`, ownerID).Scan(&enabled)
	if db.IsNoRows(err) {
		return false, nil
	}
	return enabled, err
}

// VerifyKeyword reports whether keyword matches the stored trigger phrase.
func (s *Service) VerifyKeyword(ctx context.Context, ownerID, keyword string) (bool, error) {
	var hash string
	err := s.db.QueryRow(ctx, `SELECT trigger_phrase_hash FROM anti_theft_configs WHERE owner_id=$1`, ownerID).Scan(&hash)
	if db.IsNoRows(err) {
		return false, apperr.ErrConfigMissing
	}
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(keyword)) == nil, nil
}

// Trigger opens a new active event for ownerID. Alert fan-out and tracking
// start are requested from the notification collaborator after commit.
func (s *Service) Trigger(ctx context.Context, ownerID string, in TriggerInput) (Event, error) {
	if err := s.validate.Struct(in); err != nil {
		return Event{}, apperr.FromValidation(err)
	}

	ev := Event{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		TriggeredBy: in.TriggeredBy,
		TriggerTime: s.now().UTC(),
		Status:      StatusActive,
		IsTest:      in.IsTest,
	}

	var cfg Config
	err := db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT is_enabled, enable_gps_tracking, enable_audio_recording, enable_video_recording, tracking_interval_seconds, recording_duration_minutes
			FROM anti_theft_configs WHERE owner_id=$1
		`, ownerID).Scan(&cfg.IsEnabled, &cfg.EnableGPSTracking, &cfg.EnableAudioRecording, &cfg.EnableVideoRecording, &cfg.TrackingIntervalSeconds, &cfg.RecordingDurationMinutes)
		if db.IsNoRows(err) {
			return apperr.ErrConfigMissing
		}
		if err != nil {
			return err
		}
		if !cfg.IsEnabled {
			return apperr.ErrDisabled
		}

		if err := db.LockOwner(ctx, tx, lockScope, ownerID); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM anti_theft_events WHERE owner_id=$1 AND status='active')`, ownerID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return apperr.Conflict("an anti-theft event is already active")
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO anti_theft_events (id, owner_id, triggered_by, trigger_time, status, is_test)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, ev.ID, ev.OwnerID, ev.TriggeredBy, ev.TriggerTime, string(ev.Status), ev.IsTest)
		if db.IsUniqueViolation(err) {
			return apperr.Conflict("an anti-theft event is already active")
		}
		return err
	})
	if err != nil {
		return Event{}, err
	}

	metrics.EventsTriggered.WithLabelValues(ev.TriggeredBy, strconv.FormatBool(ev.IsTest)).Inc()
	logger.Info("anti-theft triggered",
		zap.String("owner_id", ownerID),
		zap.String("event_id", ev.ID),
		zap.String("triggered_by", ev.TriggeredBy),
		zap.Bool("is_test", ev.IsTest),
	)

	s.publisher.Publish(ctx, notify.Intent{
		Kind:    notify.KindAlertFanout,
		OwnerID: ownerID,
		EventID: ev.ID,
		At:      ev.TriggerTime,
		Data:    map[string]any{"triggered_by": ev.TriggeredBy, "is_test": ev.IsTest},
	})
	s.publisher.Publish(ctx, notify.Intent{
		Kind:    notify.KindTrackingStart,
		OwnerID: ownerID,
		EventID: ev.ID,
		At:      ev.TriggerTime,
		Data: map[string]any{
			"enable_gps_tracking":        cfg.EnableGPSTracking,
			"enable_audio_recording":     cfg.EnableAudioRecording,
			"enable_video_recording":     cfg.EnableVideoRecording,
			"tracking_interval_seconds":  cfg.TrackingIntervalSeconds,
			"recording_duration_minutes": cfg.RecordingDurationMinutes,
		},
	})
	return ev, nil
}

// Deactivate closes an owned event. Repeating it is allowed and moves
// deactivated_at forward.
func (s *Service) Deactivate(ctx context.Context, ownerID, eventID string) (Event, error) {
	if !validID(eventID) {
		return Event{}, apperr.NotFound("event not found")
	}
	row := s.db.QueryRow(ctx, `
		UPDATE anti_theft_events SET status='deactivated', deactivated_at=$3
		WHERE id=$1 AND owner_id=$2
		RETURNING `+eventColumns,
		eventID, ownerID, s.now().UTC())
	ev, err := scanEvent(row)
	if db.IsNoRows(err) {
		return Event{}, apperr.NotFound("event not found")
	}
	if err != nil {
		return Event{}, err
	}
	logger.Info("anti-theft deactivated", zap.String("owner_id", ownerID), zap.String("event_id", eventID))
	return ev, nil
}

func (s *Service) Event(ctx context.Context, ownerID, eventID string) (Event, error) {
	if !validID(eventID) {
		return Event{}, apperr.NotFound("event not found")
	}
	row := s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM anti_theft_events WHERE id=$1 AND owner_id=$2`, eventID, ownerID)
	ev, err := scanEvent(row)
	if db.IsNoRows(err) {
		return Event{}, apperr.NotFound("event not found")
	}
	return ev, err
}

// ActiveEvent returns the owner's active event, or nil when there is none.
func (s *Service) ActiveEvent(ctx context.Context, ownerID string) (*Event, error) {
	row := s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM anti_theft_events WHERE owner_id=$1 AND status='active'`, ownerID)
	ev, err := scanEvent(row)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Events lists the owner's events, newest first.
func (s *Service) Events(ctx context.Context, ownerID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+eventColumns+` FROM anti_theft_events
		WHERE owner_id=$1
		ORDER BY trigger_time DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AddLocations appends points to an owned event that is still active.
func (s *Service) AddLocations(ctx context.Context, ownerID, eventID string, batch []points.Point) (int, error) {
	if !validID(eventID) {
		return 0, apperr.NotFound("active event not found")
	}
	var active bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM anti_theft_events WHERE id=$1 AND owner_id=$2 AND status='active')
	`, eventID, ownerID).Scan(&active)
	if err != nil {
		return 0, err
	}
	if !active {
		return 0, apperr.NotFound("active event not found")
	}

	n, err := s.ledger.Ingest(ctx, points.EventParent(eventID), batch)
	if err != nil {
		return 0, err
	}
	if s.hub != nil {
		s.hub.BroadcastPoints(eventID, batch)
	}
	return n, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanConfig(row pgx.Row) (Config, error) {
	var cfg Config
	err := row.Scan(&cfg.ID, &cfg.OwnerID, &cfg.IsEnabled, &cfg.EnableGPSTracking, &cfg.EnableAudioRecording,
		&cfg.EnableVideoRecording, &cfg.TrackingIntervalSeconds, &cfg.RecordingDurationMinutes, &cfg.CreatedAt, &cfg.UpdatedAt)
	return cfg, err
}

func scanEvent(row pgx.Row) (Event, error) {
	var ev Event
	var status string
	if err := row.Scan(&ev.ID, &ev.OwnerID, &ev.TriggeredBy, &ev.TriggerTime, &status, &ev.IsTest, &ev.DeactivatedAt, &ev.Notes); err != nil {
		return Event{}, err
	}
	ev.Status = Status(status)
	return ev, nil
}

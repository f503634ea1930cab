// Package tracking runs user-initiated path recording. An owner has at most
// one active session; starting another closes the previous one.
package tracking

import (
	"context"
	"time"

	"backend-safetrack/internal/db"
	"backend-safetrack/internal/logger"
	"backend-safetrack/internal/metrics"
	"backend-safetrack/internal/notify"
	"backend-safetrack/internal/points"
	"backend-safetrack/internal/shared/apperr"
	"backend-safetrack/internal/shared/geo"
	"backend-safetrack/internal/stream"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200

	lockScope = "session"
)

const sessionColumns = `id, owner_id, name, description, session_type, start_time, end_time, is_active, total_distance_m, average_speed_mps, created_at`

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

func notFound() error {
	return apperr.NotFound("path not found")
}

// Start opens a new active session, closing any session the owner left
// active.
func (s *Service) Start(ctx context.Context, ownerID string, in StartInput) (Session, error) {
	if err := s.validate.Struct(in); err != nil {
		return Session{}, apperr.FromValidation(err)
	}
	if in.SessionType == "" {
		in.SessionType = TypeOther
	}

	started := s.now().UTC()
	sess := Session{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        in.Name,
		Description: in.Description,
		SessionType: in.SessionType,
		StartTime:   started,
		IsActive:    true,
		CreatedAt:   started,
	}

	err := db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := db.LockOwner(ctx, tx, lockScope, ownerID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE tracking_sessions SET is_active=FALSE, end_time=COALESCE(end_time, $2)
			WHERE owner_id=$1 AND is_active
		`, ownerID, started); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO tracking_sessions (id, owner_id, name, description, session_type, start_time, is_active, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,TRUE,$7)
		`, sess.ID, ownerID, sess.Name, sess.Description, string(sess.SessionType), started, started)
		if db.IsUniqueViolation(err) {
			return apperr.Conflict("a path is already being tracked")
		}
		return err
	})
	if err != nil {
		return Session{}, err
	}

	metrics.SessionsStarted.Inc()
	logger.Info("path tracking started", zap.String("owner_id", ownerID), zap.String("session_id", sess.ID))
	s.publisher.Publish(ctx, notify.Intent{
		Kind:      notify.KindSessionStarted,
		OwnerID:   ownerID,
		SessionID: sess.ID,
		At:        started,
		Data:      map[string]any{"path_type": string(sess.SessionType)},
	})
	return sess, nil
}

// Stop closes an active session and computes its distance and average
// speed from the recorded points.
func (s *Service) Stop(ctx context.Context, ownerID, sessionID string) (Session, error) {
	if !validID(sessionID) {
		return Session{}, notFound()
	}

	var sess Session
	err := db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM tracking_sessions WHERE id=$1 AND owner_id=$2 FOR UPDATE`, sessionID, ownerID)
		var err error
		sess, err = scanSession(row)
		if db.IsNoRows(err) {
			return notFound()
		}
		if err != nil {
			return err
		}
		if !sess.IsActive {
			return apperr.NotActive("path is not active")
		}

		pts, err := s.ledger.ReadTx(ctx, tx, points.SessionParent(sessionID), points.Ascending, 0)
		if err != nil {
			return err
		}
		fixes := make([]geo.Fix, len(pts))
		for i, p := range pts {
			fixes[i] = geo.Fix{Lat: p.Latitude, Lng: p.Longitude, At: p.Timestamp}
		}
		distance, speed := geo.PathMetrics(fixes)

		ended := s.now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE tracking_sessions SET is_active=FALSE, end_time=$2, total_distance_m=$3, average_speed_mps=$4
			WHERE id=$1
		`, sessionID, ended, distance, speed); err != nil {
			return err
		}
		sess.IsActive = false
		sess.EndTime = &ended
		sess.TotalDistanceM = distance
		sess.AverageSpeedMps = speed
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	logger.Info("path tracking stopped", zap.String("owner_id", ownerID), zap.String("session_id", sessionID))
	return sess, nil
}

// AddPoints appends a batch to an owned session.
func (s *Service) AddPoints(ctx context.Context, ownerID, sessionID string, batch []points.Point) (int, error) {
	if err := s.Owns(ctx, ownerID, sessionID); err != nil {
		return 0, err
	}
	n, err := s.ledger.Ingest(ctx, points.SessionParent(sessionID), batch)
	if err != nil {
		return 0, err
	}
	if s.hub != nil {
		s.hub.BroadcastPoints(sessionID, batch)
	}
	return n, nil
}

// Owns returns NotFound unless sessionID belongs to ownerID.
func (s *Service) Owns(ctx context.Context, ownerID, sessionID string) error {
	if !validID(sessionID) {
		return notFound()
	}
	var owned bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tracking_sessions WHERE id=$1 AND owner_id=$2)`, sessionID, ownerID).Scan(&owned); err != nil {
		return err
	}
	if !owned {
		return notFound()
	}
	return nil
}

// List returns the owner's sessions, newest first.
func (s *Service) List(ctx context.Context, ownerID string, limit, skip int) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if skip < 0 {
		skip = 0
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM tracking_sessions
		WHERE owner_id=$1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Service) Detail(ctx context.Context, ownerID, sessionID string) (Detail, error) {
	if !validID(sessionID) {
		return Detail{}, notFound()
	}
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM tracking_sessions WHERE id=$1 AND owner_id=$2`, sessionID, ownerID)
	return s.detail(ctx, row)
}

// DetailByID loads a session without an owner check. Share resolution uses
// it after the token has been validated.
func (s *Service) DetailByID(ctx context.Context, sessionID string) (Detail, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM tracking_sessions WHERE id=$1`, sessionID)
	return s.detail(ctx, row)
}

func (s *Service) detail(ctx context.Context, row pgx.Row) (Detail, error) {
	sess, err := scanSession(row)
	if db.IsNoRows(err) {
		return Detail{}, notFound()
	}
	if err != nil {
		return Detail{}, err
	}
	pts, err := s.ledger.Read(ctx, points.SessionParent(sess.ID), points.Ascending, 0)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Session: sess, Points: pts}, nil
}

func (s *Service) Update(ctx context.Context, ownerID, sessionID string, in UpdateInput) (Session, error) {
	if err := s.validate.Struct(in); err != nil {
		return Session{}, apperr.FromValidation(err)
	}
	if !validID(sessionID) {
		return Session{}, notFound()
	}
	row := s.db.QueryRow(ctx, `
		UPDATE tracking_sessions SET name=COALESCE($3, name), description=COALESCE($4, description)
		WHERE id=$1 AND owner_id=$2
		RETURNING `+sessionColumns,
		sessionID, ownerID, in.Name, in.Description)
	sess, err := scanSession(row)
	if db.IsNoRows(err) {
		return Session{}, notFound()
	}
	return sess, err
}

// Delete removes a session; its points and share grants go with it.
func (s *Service) Delete(ctx context.Context, ownerID, sessionID string) error {
	if !validID(sessionID) {
		return notFound()
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM tracking_sessions WHERE id=$1 AND owner_id=$2`, sessionID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound()
	}
	logger.Info("path deleted", zap.String("owner_id", ownerID), zap.String("session_id", sessionID))
	return nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	var sessionType string
	err := row.Scan(&sess.ID, &sess.OwnerID, &sess.Name, &sess.Description, &sessionType, &sess.StartTime,
		&sess.EndTime, &sess.IsActive, &sess.TotalDistanceM, &sess.AverageSpeedMps, &sess.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	sess.SessionType = SessionType(sessionType)
	return sess, nil
}

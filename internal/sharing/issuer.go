// Package sharing issues bearer links into a tracking session. Whoever holds
// an unexpired token can replay the session; there is no revocation short of
// deleting the session.
package sharing

import (
	"context"
	"time"

	"backend-safetrack/internal/db"
	"backend-safetrack/internal/logger"
	"backend-safetrack/internal/metrics"
	"backend-safetrack/internal/notify"
	"backend-safetrack/internal/shared/apperr"
	"backend-safetrack/internal/tracking"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultExpiresInHours = 24

type Issuer struct {
	db        db.Querier
	sessions  *tracking.Service
	publisher notify.Publisher
	validate  *validator.Validate
	now       func() time.Time
}

func NewIssuer(db db.Querier, sessions *tracking.Service, publisher notify.Publisher) *Issuer {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Issuer{
		db:        db,
		sessions:  sessions,
		publisher: publisher,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Issue creates a grant on an owned session.
func (i *Issuer) Issue(ctx context.Context, ownerID, sessionID string, in IssueInput) (Grant, error) {
	if err := i.validate.Struct(in); err != nil {
		return Grant{}, apperr.FromValidation(err)
	}
	if err := i.sessions.Owns(ctx, ownerID, sessionID); err != nil {
		return Grant{}, err
	}

	hours := DefaultExpiresInHours
	if in.ExpiresInHours != nil {
		hours = *in.ExpiresInHours
	}
	token, err := newToken()
	if err != nil {
		return Grant{}, err
	}

	created := i.now().UTC()
	grant := Grant{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		SharedWithEmail: in.SharedWithEmail,
		SharedWithPhone: in.SharedWithPhone,
		ShareToken:      token,
		ExpiresAt:       created.Add(time.Duration(hours) * time.Hour),
		CreatedAt:       created,
	}
	_, err = i.db.Exec(ctx, `
		INSERT INTO share_grants (id, session_id, shared_with_email, shared_with_phone, share_token, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, grant.ID, grant.SessionID, grant.SharedWithEmail, grant.SharedWithPhone, grant.ShareToken, grant.ExpiresAt, grant.CreatedAt)
	if err != nil {
		return Grant{}, err
	}

	intent := notify.Intent{
		Kind:      notify.KindShareCreated,
		OwnerID:   ownerID,
		SessionID: sessionID,
		At:        created,
		Data:      map[string]any{"expires_at": grant.ExpiresAt, "share_token": grant.ShareToken},
	}
	if grant.SharedWithEmail != nil || grant.SharedWithPhone != nil {
		intent.Recipient = &notify.Recipient{Email: grant.SharedWithEmail, Phone: grant.SharedWithPhone}
	}
	i.publisher.Publish(ctx, intent)

	logger.Info("share link issued", zap.String("owner_id", ownerID), zap.String("session_id", sessionID), zap.Time("expires_at", grant.ExpiresAt))
	return grant, nil
}

// SessionFor returns the session a live token is bound to.
func (i *Issuer) SessionFor(ctx context.Context, token string) (string, error) {
	var sessionID string
	var expiresAt time.Time
	err := i.db.QueryRow(ctx, `SELECT session_id, expires_at FROM share_grants WHERE share_token=$1`, token).Scan(&sessionID, &expiresAt)
	if db.IsNoRows(err) {
		return "", apperr.NotFound("share link not found")
	}
	if err != nil {
		return "", err
	}
	if expiresAt.Before(i.now()) {
		return "", apperr.ErrExpired
	}
	return sessionID, nil
}

// Resolve replays the shared session exactly as its owner sees it.
func (i *Issuer) Resolve(ctx context.Context, token string) (tracking.Detail, error) {
	detail, err := i.resolve(ctx, token)
	metrics.ShareResolutions.WithLabelValues(resolutionResult(err)).Inc()
	return detail, err
}

func (i *Issuer) resolve(ctx context.Context, token string) (tracking.Detail, error) {
	sessionID, err := i.SessionFor(ctx, token)
	if err != nil {
		return tracking.Detail{}, err
	}
	return i.sessions.DetailByID(ctx, sessionID)
}

func resolutionResult(err error) string {
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound:
		return "not_found"
	case apperr.CodeExpired:
		return "expired"
	}
	if err != nil {
		return "error"
	}
	return "ok"
}

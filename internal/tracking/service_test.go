package tracking

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"backend-safetrack/internal/notify"
	"backend-safetrack/internal/points"
	"backend-safetrack/internal/shared/apperr"
	"backend-safetrack/internal/shared/geo"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
)

const (
	ownerID   = "0f8fad5b-d9cb-469f-a165-70867728950e"
	sessionID = "7b0c5f0e-2a4e-4a57-9a37-0d4c1f2b9e11"
)

var errTrack = errors.New("track error")

var (
	sessionRowColumns = []string{"id", "owner_id", "name", "description", "session_type", "start_time", "end_time", "is_active", "total_distance_m", "average_speed_mps", "created_at"}
	pointRowColumns   = []string{"id", "lat", "lng", "accuracy", "altitude", "speed", "heading", "recorded_at", "battery_level"}
)

type recorder struct{ intents []notify.Intent }

func (r *recorder) Publish(_ context.Context, in notify.Intent) { r.intents = append(r.intents, in) }
func (r *recorder) Close()                                      {}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func newTestService(mock pgxmock.PgxPoolIface, pub notify.Publisher, now time.Time) *Service {
	svc := NewService(mock, points.NewLedger(mock, 0, 0), nil, pub)
	svc.now = func() time.Time { return now }
	return svc
}

func sessionRows(active bool, start time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(sessionRowColumns).AddRow(sessionID, ownerID, (*string)(nil), (*string)(nil), "walk", start,
		(*time.Time)(nil), active, (*float64)(nil), (*float64)(nil), start)
}

func pointRow(rows *pgxmock.Rows, id int64, lat, lng float64, at time.Time) *pgxmock.Rows {
	nilF := (*float64)(nil)
	return rows.AddRow(id, lat, lng, nilF, nilF, nilF, nilF, at, (*int)(nil))
}

func TestStartDeactivatesPreviousAndInserts(t *testing.T) {
	mock := newMock(t)
	pub := &recorder{}
	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	svc := newTestService(mock, pub, now)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtextextended\(\$1, 0\)\)`).
		WithArgs("session:" + ownerID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`UPDATE tracking_sessions SET is_active=FALSE, end_time=COALESCE\(end_time, \$2\)\s+WHERE owner_id=\$1 AND is_active`).
		WithArgs(ownerID, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO tracking_sessions`).
		WithArgs(pgxmock.AnyArg(), ownerID, (*string)(nil), (*string)(nil), "other", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	sess, err := svc.Start(context.Background(), ownerID, StartInput{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !sess.IsActive || sess.SessionType != TypeOther || !sess.StartTime.Equal(now) || sess.EndTime != nil {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if len(pub.intents) != 1 || pub.intents[0].Kind != notify.KindSessionStarted || pub.intents[0].SessionID != sess.ID {
		t.Fatalf("expected session.started intent, got %+v", pub.intents)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStartRejectsUnknownType(t *testing.T) {
	svc := newTestService(newMock(t), nil, time.Now())
	if _, err := svc.Start(context.Background(), ownerID, StartInput{SessionType: "flight"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStartInsertErrorRollsBack(t *testing.T) {
	mock := newMock(t)
	pub := &recorder{}
	svc := newTestService(mock, pub, time.Now())

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`UPDATE tracking_sessions`).WithArgs(ownerID, pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`INSERT INTO tracking_sessions`).WillReturnError(errTrack)
	mock.ExpectRollback()

	if _, err := svc.Start(context.Background(), ownerID, StartInput{SessionType: TypeTaxi}); !errors.Is(err, errTrack) {
		t.Fatalf("expected insert error, got %v", err)
	}
	if len(pub.intents) != 0 {
		t.Fatalf("no intent expected on failure")
	}
}

func TestStopComputesDistanceAndSpeed(t *testing.T) {
	mock := newMock(t)
	start := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	svc := newTestService(mock, nil, end)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM tracking_sessions WHERE id=\$1 AND owner_id=\$2 FOR UPDATE`).
		WithArgs(sessionID, ownerID).
		WillReturnRows(sessionRows(true, start))
	rows := pgxmock.NewRows(pointRowColumns)
	pointRow(rows, 1, 0, 0, start)
	pointRow(rows, 2, 0, 0.001, start.Add(10*time.Second))
	pointRow(rows, 3, 0, 0.002, start.Add(20*time.Second))
	mock.ExpectQuery(`FROM location_points WHERE session_id=\$1 ORDER BY recorded_at ASC`).
		WithArgs(sessionID).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE tracking_sessions SET is_active=FALSE, end_time=\$2, total_distance_m=\$3, average_speed_mps=\$4`).
		WithArgs(sessionID, end, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	sess, err := svc.Stop(context.Background(), ownerID, sessionID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	want := geo.HaversineM(0, 0, 0, 0.001) + geo.HaversineM(0, 0.001, 0, 0.002)
	if sess.IsActive || sess.EndTime == nil || !sess.EndTime.Equal(end) {
		t.Fatalf("session should be closed: %+v", sess)
	}
	if sess.TotalDistanceM == nil || math.Abs(*sess.TotalDistanceM-want) > 1e-6 {
		t.Fatalf("unexpected distance %v, want %v", sess.TotalDistanceM, want)
	}
	if sess.AverageSpeedMps == nil || math.Abs(*sess.AverageSpeedMps-want/20) > 1e-6 {
		t.Fatalf("unexpected speed %v", sess.AverageSpeedMps)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// poolOnly records statements issued on the pool itself rather than on a
// transaction begun from it.
type poolOnly struct {
	pgxmock.PgxPoolIface
	statements []string
}

func (p *poolOnly) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.statements = append(p.statements, sql)
	return p.PgxPoolIface.Query(ctx, sql, args...)
}

func (p *poolOnly) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	p.statements = append(p.statements, sql)
	return p.PgxPoolIface.QueryRow(ctx, sql, args...)
}

func (p *poolOnly) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.statements = append(p.statements, sql)
	return p.PgxPoolIface.Exec(ctx, sql, args...)
}

func TestStopReadsPointsInsideTransaction(t *testing.T) {
	mock := newMock(t)
	pool := &poolOnly{PgxPoolIface: mock}
	start := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	svc := newTestService(pool, nil, start.Add(time.Minute))

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(sessionID, ownerID).WillReturnRows(sessionRows(true, start))
	rows := pgxmock.NewRows(pointRowColumns)
	pointRow(rows, 1, 0, 0, start)
	pointRow(rows, 2, 0, 0.001, start.Add(30*time.Second))
	mock.ExpectQuery(`FROM location_points WHERE session_id=\$1`).WithArgs(sessionID).WillReturnRows(rows)
	mock.ExpectExec(`UPDATE tracking_sessions`).
		WithArgs(sessionID, start.Add(time.Minute), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	if _, err := svc.Stop(context.Background(), ownerID, sessionID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(pool.statements) != 0 {
		t.Fatalf("stop must not take a second pool connection, got %q", pool.statements)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStopSinglePointLeavesMetricsUnset(t *testing.T) {
	mock := newMock(t)
	start := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	svc := newTestService(mock, nil, start.Add(time.Minute))

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(sessionID, ownerID).WillReturnRows(sessionRows(true, start))
	mock.ExpectQuery(`FROM location_points`).WithArgs(sessionID).
		WillReturnRows(pointRow(pgxmock.NewRows(pointRowColumns), 1, 1, 1, start))
	mock.ExpectExec(`UPDATE tracking_sessions`).
		WithArgs(sessionID, start.Add(time.Minute), (*float64)(nil), (*float64)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	sess, err := svc.Stop(context.Background(), ownerID, sessionID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if sess.TotalDistanceM != nil || sess.AverageSpeedMps != nil {
		t.Fatalf("metrics must stay unset")
	}
}

func TestStopNotActive(t *testing.T) {
	mock := newMock(t)
	svc := newTestService(mock, nil, time.Now())

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(sessionID, ownerID).WillReturnRows(sessionRows(false, time.Now()))
	mock.ExpectRollback()

	if _, err := svc.Stop(context.Background(), ownerID, sessionID); !errors.Is(err, apperr.ErrNotActive) {
		t.Fatalf("expected not active, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStopNotFound(t *testing.T) {
	mock := newMock(t)
	svc := newTestService(mock, nil, time.Now())

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(sessionID, "someone-else").WillReturnRows(pgxmock.NewRows(sessionRowColumns))
	mock.ExpectRollback()

	if _, err := svc.Stop(context.Background(), "someone-else", sessionID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Stop(context.Background(), ownerID, "not-a-uuid"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for malformed id, got %v", err)
	}
}

func TestAddPointsRequiresOwnership(t *testing.T) {
	mock := newMock(t)
	svc := newTestService(mock, nil, time.Now())

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM tracking_sessions WHERE id=\$1 AND owner_id=\$2\)`).
		WithArgs(sessionID, ownerID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := svc.AddPoints(context.Background(), ownerID, sessionID, []points.Point{{Timestamp: time.Now()}})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddPoints(t *testing.T) {
	mock := newMock(t)
	svc := newTestService(mock, nil, time.Now())

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(sessionID, ownerID).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM location_points WHERE session_id=\$1`).WithArgs(sessionID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectExec(`INSERT INTO location_points`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := svc.AddPoints(context.Background(), ownerID, sessionID, []points.Point{
		{Latitude: 1, Longitude: 1, Timestamp: time.Now()},
		{Latitude: 1.1, Longitude: 1.1, Timestamp: time.Now()},
	})
	if err != nil || n != 2 {
		t.Fatalf("add points: n=%d err=%v", n, err)
	}
}

func TestAddPointsSessionDeletedConcurrently(t *testing.T) {
	mock := newMock(t)
	svc := newTestService(mock, nil, time.Now())

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(sessionID, ownerID).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs("points:" + sessionID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM location_points`).WithArgs(sessionID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO location_points`).WillReturnError(&pgconn.PgError{Code: "23503"})
	mock.ExpectRollback()

	_, err := svc.AddPoints(context.Background(), ownerID, sessionID, []points.Point{{Latitude: 1, Longitude: 1, Timestamp: time.Now()}})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListDefaultsAndClamps(t *testing.T) {
	mock := newMock(t)
	svc := newTestService(mock, nil, time.Now())

	mock.ExpectQuery(`FROM tracking_sessions\s+WHERE owner_id=\$1\s+ORDER BY start_time DESC\s+LIMIT \$2 OFFSET \$3`).
		WithArgs(ownerID, DefaultListLimit, 0).
		WillReturnRows(sessionRows(false, time.Now()))
	mock.ExpectQuery(`FROM tracking_sessions`).
		WithArgs(ownerID, MaxListLimit, 10).
		WillReturnRows(pgxmock.NewRows(sessionRowColumns))

	sessions, err := svc.List(context.Background(), ownerID, 0, -3)
	if err != nil || len(sessions) != 1 || sessions[0].SessionType != TypeWalk {
		t.Fatalf("list: %v %+v", err, sessions)
	}
	sessions, err = svc.List(context.Background(), ownerID, 1000, 10)
	if err != nil || sessions == nil || len(sessions) != 0 {
		t.Fatalf("expected empty list, got %v %v", sessions, err)
	}
}

func TestDetailReplaysPointsAscending(t *testing.T) {
	mock := newMock(t)
	svc := newTestService(mock, nil, time.Now())
	start := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM tracking_sessions WHERE id=\$1 AND owner_id=\$2$`).
		WithArgs(sessionID, ownerID).
		WillReturnRows(sessionRows(true, start))
	rows := pgxmock.NewRows(pointRowColumns)
	pointRow(rows, 1, 1, 1, start)
	pointRow(rows, 2, 2, 2, start.Add(time.Second))
	mock.ExpectQuery(`FROM location_points WHERE session_id=\$1 ORDER BY recorded_at ASC, id ASC$`).
		WithArgs(sessionID).
		WillReturnRows(rows)

	detail, err := svc.Detail(context.Background(), ownerID, sessionID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.ID != sessionID || len(detail.Points) != 2 || detail.Points[0].ID != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
}

func TestDetailNotFound(t *testing.T) {
	mock := newMock(t)
	svc := newTestService(mock, nil, time.Now())

	mock.ExpectQuery(`FROM tracking_sessions WHERE id=\$1`).WithArgs(sessionID).WillReturnRows(pgxmock.NewRows(sessionRowColumns))
	if _, err := svc.DetailByID(context.Background(), sessionID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	mock := newMock(t)
	svc := newTestService(mock, nil, time.Now())
	name := "Evening walk"

	mock.ExpectQuery(`UPDATE tracking_sessions SET name=COALESCE\(\$3, name\), description=COALESCE\(\$4, description\)`).
		WithArgs(sessionID, ownerID, &name, (*string)(nil)).
		WillReturnRows(pgxmock.NewRows(sessionRowColumns).AddRow(sessionID, ownerID, &name, (*string)(nil), "walk", time.Now(),
			(*time.Time)(nil), true, (*float64)(nil), (*float64)(nil), time.Now()))

	sess, err := svc.Update(context.Background(), ownerID, sessionID, UpdateInput{Name: &name})
	if err != nil || sess.Name == nil || *sess.Name != name {
		t.Fatalf("update: %v %+v", err, sess)
	}
}

func TestDelete(t *testing.T) {
	mock := newMock(t)
	svc := newTestService(mock, nil, time.Now())

	mock.ExpectExec(`DELETE FROM tracking_sessions WHERE id=\$1 AND owner_id=\$2`).
		WithArgs(sessionID, ownerID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM tracking_sessions`).
		WithArgs(sessionID, ownerID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	if err := svc.Delete(context.Background(), ownerID, sessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(context.Background(), ownerID, sessionID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

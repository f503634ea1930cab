package points

import (
	"context"
	"fmt"
	"strings"

	"backend-safetrack/internal/db"
	"backend-safetrack/internal/metrics"
	"backend-safetrack/internal/shared/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
)

const (
	DefaultBatchLimit  = 100
	DefaultParentLimit = 50000
)

// lockScope serialises ingests per parent so the ceiling check and the
// insert see the same count.
const lockScope = "points"

const pointColumns = `id, ST_Y(location::geometry), ST_X(location::geometry), accuracy, altitude, speed, heading, recorded_at, battery_level`

// Ledger is the append-only store of location points for events and
// tracking sessions.
type Ledger struct {
	db          db.Querier
	validate    *validator.Validate
	batchLimit  int
	parentLimit int
}

func NewLedger(db db.Querier, batchLimit, parentLimit int) *Ledger {
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	if parentLimit <= 0 {
		parentLimit = DefaultParentLimit
	}
	return &Ledger{
		db:          db,
		validate:    validator.New(),
		batchLimit:  batchLimit,
		parentLimit: parentLimit,
	}
}

// Ingest stores a batch of points under parent. The batch commits as a
// single multi-row insert or not at all.
func (l *Ledger) Ingest(ctx context.Context, parent Parent, batch []Point) (int, error) {
	column, ok := parent.Kind.column()
	if !ok {
		return 0, apperr.Validation(fmt.Sprintf("unknown parent kind %q", parent.Kind))
	}
	if err := l.check(parent, batch); err != nil {
		return 0, err
	}

	var inserted int
	err := db.WithTx(ctx, l.db, func(tx pgx.Tx) error {
		if err := db.LockOwner(ctx, tx, lockScope, parent.ID); err != nil {
			return err
		}
		var existing int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM location_points WHERE `+column+`=$1`, parent.ID).Scan(&existing); err != nil {
			return err
		}
		if existing+len(batch) > l.parentLimit {
			return apperr.Validation(fmt.Sprintf("point limit of %d per %s reached", l.parentLimit, parent.Kind))
		}

		sql, args := insertStatement(parent, batch)
		tag, err := tx.Exec(ctx, sql, args...)
		if db.IsForeignKeyViolation(err) {
			return apperr.NotFound(fmt.Sprintf("%s not found", parent.Kind))
		}
		if err != nil {
			return err
		}
		inserted = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.PointsIngested.WithLabelValues(string(parent.Kind)).Add(float64(inserted))
	return inserted, nil
}

func (l *Ledger) check(parent Parent, batch []Point) error {
	if len(batch) == 0 {
		return apperr.Validation("at least one point is required")
	}
	if len(batch) > l.batchLimit {
		return apperr.Validation(fmt.Sprintf("batch of %d points exceeds limit of %d", len(batch), l.batchLimit))
	}
	for i := range batch {
		if err := l.validate.Struct(batch[i]); err != nil {
			return apperr.FromValidation(err)
		}
		if parent.Kind != KindEvent && batch[i].BatteryLevel != nil {
			return apperr.Validation("battery_level is only recorded for event points")
		}
	}
	return nil
}

func insertStatement(parent Parent, batch []Point) (string, []any) {
	const perRow = 10
	var sb strings.Builder
	sb.WriteString(`INSERT INTO location_points (event_id, session_id, location, accuracy, altitude, speed, heading, recorded_at, battery_level) VALUES `)

	var eventID, sessionID any
	if parent.Kind == KindEvent {
		eventID = parent.ID
	} else {
		sessionID = parent.ID
	}

	args := make([]any, 0, len(batch)*perRow)
	for i, p := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * perRow
		fmt.Fprintf(&sb, "($%d, $%d, ST_SetSRID(ST_MakePoint($%d, $%d), 4326)::geography, $%d, $%d, $%d, $%d, $%d, $%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9, n+10)
		args = append(args, eventID, sessionID, p.Longitude, p.Latitude, p.Accuracy, p.Altitude, p.Speed, p.Heading, p.Timestamp, p.BatteryLevel)
	}
	return sb.String(), args
}

// Read returns the points of parent ordered by capture time, ties broken by
// insertion id. A limit of zero or less returns every point.
func (l *Ledger) Read(ctx context.Context, parent Parent, order Order, limit int) ([]Point, error) {
	return l.ReadTx(ctx, l.db, parent, order, limit)
}

// ReadTx is Read on q, typically a transaction the caller already holds.
func (l *Ledger) ReadTx(ctx context.Context, q db.Querier, parent Parent, order Order, limit int) ([]Point, error) {
	column, ok := parent.Kind.column()
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown parent kind %q", parent.Kind))
	}

	direction := "ASC"
	if order == Descending {
		direction = "DESC"
	}
	sql := `SELECT ` + pointColumns + ` FROM location_points WHERE ` + column + `=$1 ORDER BY recorded_at ` + direction + `, id ` + direction
	args := []any{parent.ID}
	if limit > 0 {
		sql += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []Point{}
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.ID, &p.Latitude, &p.Longitude, &p.Accuracy, &p.Altitude, &p.Speed, &p.Heading, &p.Timestamp, &p.BatteryLevel); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

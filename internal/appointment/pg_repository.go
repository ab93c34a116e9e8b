package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Columns is the select list ScanAppointment expects.
const Columns = `id, establishment_id, professional_id, service_id, user_id, start_at, end_at, status, checkin_at, created_at, updated_at`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanService(row pgx.Row) (*ServiceInfo, error) {
	var s ServiceInfo

	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.DurationMinutes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}

	return &s, nil
}

// ScanAppointment reads one row selected with Columns.
func ScanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var checkinAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.EstablishmentID,
		&a.ProfessionalID,
		&a.ServiceID,
		&a.UserID,
		&a.StartAt,
		&a.EndAt,
		&a.Status,
		&checkinAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.CheckinAt = checkinAt
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := make([]Appointment, 0)
	for rows.Next() {
		a, err := ScanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func getService(ctx context.Context, q querier, id uuid.UUID) (*ServiceInfo, error) {
	row := q.QueryRow(ctx, `
		SELECT id, name, duration_minutes
		FROM services
		WHERE id = $1
	`, id)
	return scanService(row)
}

func listBlocking(ctx context.Context, q querier, professionalID uuid.UUID, from, to time.Time, lock bool) ([]Appointment, error) {
	query := `
		SELECT ` + Columns + `
		FROM appointments
		WHERE professional_id = $1
		  AND status NOT IN ('cancelled', 'no_show')
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at ASC`
	if lock {
		query += `
		FOR UPDATE`
	}

	rows, err := q.Query(ctx, query, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// Interface methods

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PgRepository) GetService(ctx context.Context, id uuid.UUID) (*ServiceInfo, error) {
	return getService(ctx, r.pool, id)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+Columns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return ScanAppointment(row)
}

func (r *PgRepository) ListBlocking(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return listBlocking(ctx, r.pool, professionalID, from, to, false)
}

func (r *PgRepository) List(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	qb := psql.Select(Columns).From("appointments")

	if filter.EstablishmentID != nil {
		qb = qb.Where(sq.Eq{"establishment_id": *filter.EstablishmentID})
	}
	if filter.ProfessionalID != nil {
		qb = qb.Where(sq.Eq{"professional_id": *filter.ProfessionalID})
	}
	if filter.UserID != nil {
		qb = qb.Where(sq.Eq{"user_id": *filter.UserID})
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		qb = qb.Where(sq.Eq{"status": statuses})
	}
	if filter.From != nil {
		qb = qb.Where(sq.GtOrEq{"start_at": *filter.From})
	}
	if filter.To != nil {
		qb = qb.Where(sq.Lt{"start_at": *filter.To})
	}

	qb = qb.OrderBy("start_at ASC", "id ASC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindMissedCheckIns(ctx context.Context, startedBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+Columns+`
		FROM appointments
		WHERE status = 'booked'
		  AND start_at < $1
		ORDER BY start_at ASC
		LIMIT $2
	`, startedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetService(ctx context.Context, id uuid.UUID) (*ServiceInfo, error) {
	return getService(ctx, t.tx, id)
}

// LockProfessional takes a transaction-scoped advisory lock. Row locks alone
// cannot stop two bookings into an empty range from both inserting.
func (t *pgTx) LockProfessional(ctx context.Context, professionalID uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "professional:"+professionalID.String()); err != nil {
		return err
	}
	return nil
}

func (t *pgTx) LockOverlapping(ctx context.Context, professionalID uuid.UUID, start, end time.Time) ([]Appointment, error) {
	return listBlocking(ctx, t.tx, professionalID, start, end, true)
}

func (t *pgTx) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+Columns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return ScanAppointment(row)
}

func (t *pgTx) Insert(ctx context.Context, a Appointment) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, establishment_id, professional_id, service_id, user_id, start_at, end_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+Columns,
		a.ID, a.EstablishmentID, a.ProfessionalID, a.ServiceID, a.UserID, a.StartAt, a.EndAt, a.Status)
	return ScanAppointment(row)
}

func (t *pgTx) UpdateStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus, checkinAt *time.Time) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    checkin_at = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+Columns,
		id, to, checkinAt)
	return ScanAppointment(row)
}

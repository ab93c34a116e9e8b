package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/booking-queue-engine/internal/appointment"
)

const (
	queueColumns = `id, establishment_id, service_id, name, status, created_at, updated_at`
	entryColumns = `id, queue_id, user_id, position, status, priority, created_at, called_at, served_at`
)

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

func scanQueue(row pgx.Row) (*Queue, error) {
	var q Queue
	var serviceID *uuid.UUID

	err := row.Scan(
		&q.ID,
		&q.EstablishmentID,
		&serviceID,
		&q.Name,
		&q.Status,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueNotFound
		}
		return nil, err
	}

	q.ServiceID = serviceID
	return &q, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var userID *uuid.UUID
	var calledAt, servedAt *time.Time

	err := row.Scan(
		&e.ID,
		&e.QueueID,
		&userID,
		&e.Position,
		&e.Status,
		&e.Priority,
		&e.CreatedAt,
		&calledAt,
		&servedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	e.UserID = userID
	e.CalledAt = calledAt
	e.ServedAt = servedAt
	return &e, nil
}

func getQueue(ctx context.Context, q querier, id uuid.UUID) (*Queue, error) {
	row := q.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE id = $1
	`, id)
	return scanQueue(row)
}

// advisoryLock takes a transaction-scoped lock on an arbitrary key.
func advisoryLock(ctx context.Context, q querier, key string) error {
	_, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
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

func (r *PgRepository) GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	return getQueue(ctx, r.pool, id)
}

func (r *PgRepository) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE id = $1
	`, id)
	return scanEntry(row)
}

func (r *PgRepository) GetServiceDuration(ctx context.Context, serviceID uuid.UUID) (int, error) {
	var minutes int
	err := r.pool.QueryRow(ctx, `
		SELECT duration_minutes
		FROM services
		WHERE id = $1
	`, serviceID).Scan(&minutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrServiceNotFound
		}
		return 0, err
	}
	return minutes, nil
}

func (r *PgRepository) CountWaiting(ctx context.Context, queueID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE queue_id = $1 AND status = 'waiting'
	`, queueID).Scan(&n)
	return n, err
}

func (r *PgRepository) CountWaitingAhead(ctx context.Context, entry Entry) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE queue_id = $1
		  AND status = 'waiting'
		  AND id <> $2
		  AND (priority > $3
		       OR (priority = $3 AND created_at < $4)
		       OR (priority = $3 AND created_at = $4 AND position < $5))
	`, entry.QueueID, entry.ID, entry.Priority, entry.CreatedAt, entry.Position).Scan(&n)
	return n, err
}

func (r *PgRepository) FindActiveEntry(ctx context.Context, queueID, userID uuid.UUID) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE queue_id = $1
		  AND user_id = $2
		  AND status IN ('waiting', 'called')
		ORDER BY position DESC
		LIMIT 1
	`, queueID, userID)
	return scanEntry(row)
}

func (r *PgRepository) ListEntries(ctx context.Context, queueID uuid.UUID, statuses []EntryStatus) ([]Entry, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE queue_id = $1
		  AND status = ANY($2)
		ORDER BY priority DESC, created_at ASC, position ASC
	`, queueID, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	return getQueue(ctx, t.tx, id)
}

func (t *pgTx) LockQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanQueue(row)
}

func (t *pgTx) SetQueueStatus(ctx context.Context, id uuid.UUID, status QueueStatus) (*Queue, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE queues
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+queueColumns,
		id, status)
	return scanQueue(row)
}

// NextPosition runs after LockQueue, so under READ COMMITTED its snapshot
// includes every entry committed by earlier joiners.
func (t *pgTx) NextPosition(ctx context.Context, queueID uuid.UUID) (int, error) {
	var next int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), 0) + 1
		FROM queue_entries
		WHERE queue_id = $1
	`, queueID).Scan(&next)
	return next, err
}

func (t *pgTx) InsertEntry(ctx context.Context, e Entry) (*Entry, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO queue_entries (id, queue_id, user_id, position, status, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+entryColumns,
		e.ID, e.QueueID, e.UserID, e.Position, e.Status, e.Priority, e.CreatedAt)
	return scanEntry(row)
}

// LockHead takes the per-queue head lock before selecting. A bare
// FOR UPDATE ... LIMIT 1 would hand a blocked caller an empty result once the
// row it waited on stops matching, instead of the next waiting entry.
func (t *pgTx) LockHead(ctx context.Context, queueID uuid.UUID) (*Entry, error) {
	if err := advisoryLock(ctx, t.tx, "queue-head:"+queueID.String()); err != nil {
		return nil, err
	}

	row := t.tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE queue_id = $1 AND status = 'waiting'
		ORDER BY priority DESC, created_at ASC, position ASC
		LIMIT 1
		FOR UPDATE
	`, queueID)
	e, err := scanEntry(row)
	if errors.Is(err, ErrEntryNotFound) {
		return nil, nil
	}
	return e, err
}

func (t *pgTx) LockEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanEntry(row)
}

func (t *pgTx) UpdateEntryStatus(ctx context.Context, id uuid.UUID, to EntryStatus, at time.Time) (*Entry, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = $2,
		    called_at = CASE WHEN $2 = 'called' THEN $3 ELSE called_at END,
		    served_at = CASE WHEN $2 = 'served' THEN $3 ELSE served_at END
		WHERE id = $1
		RETURNING `+entryColumns,
		id, string(to), at)
	return scanEntry(row)
}

func (t *pgTx) LockCheckedInAppointment(ctx context.Context, establishmentID, professionalID uuid.UUID, from, to time.Time) (*appointment.Appointment, error) {
	if err := advisoryLock(ctx, t.tx, "professional:"+professionalID.String()); err != nil {
		return nil, err
	}

	row := t.tx.QueryRow(ctx, `
		SELECT `+appointment.Columns+`
		FROM appointments
		WHERE establishment_id = $1
		  AND professional_id = $2
		  AND status = ANY($5)
		  AND start_at BETWEEN $3 AND $4
		ORDER BY start_at ASC
		LIMIT 1
		FOR UPDATE
	`, establishmentID, professionalID, from, to, appointment.StartableStatuses())
	a, err := appointment.ScanAppointment(row)
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		return nil, nil
	}
	return a, err
}

func (t *pgTx) StartAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointment.Columns,
		id, string(appointment.StatusInProgress), appointment.StartableStatuses())
	return appointment.ScanAppointment(row)
}

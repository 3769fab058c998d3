package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"paysched/internal/types"
)

// PaymentRepository provides data access for the scheduled_payments table.
//
// Beneficiary, amount and schedule are stored as JSONB documents; the schedule
// column in particular holds the variant-specific recurrence fields, so the
// table schema stays stable across recurrence kinds.
type PaymentRepository struct {
	db DBTX
}

// NewPaymentRepository creates a new PaymentRepository backed by the given
// database connection (pool or transaction).
func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// spColumns defines the standard set of columns selected for scheduled
// payment queries.
const spColumns = `p.id, p.account_id, p.description,
	p.beneficiary, p.amount, p.schedule,
	p.is_active, p.last_execution_at, p.auth_token,
	p.created_at, p.updated_at`

// scanPayment scans a single scheduled payment row. The columns must match
// the order defined in spColumns. Works for both pgx.Row and pgx.Rows.
func scanPayment(row pgx.Row) (*types.ScheduledPayment, error) {
	var p types.ScheduledPayment
	var authToken *string

	err := row.Scan(
		&p.ID,
		&p.AccountID,
		&p.Description,
		&p.Beneficiary,
		&p.Amount,
		&p.Schedule,
		&p.IsActive,
		&p.LastExecutionAt,
		&authToken,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if authToken != nil {
		p.AuthToken = *authToken
	}

	return &p, nil
}

// InsertIfAbsent inserts a new scheduled payment, treating an existing row
// with the same id as a no-op. It returns true when the row was inserted and
// false when the id was already taken, so the caller can decide how to report
// the duplicate.
func (r *PaymentRepository) InsertIfAbsent(ctx context.Context, p *types.ScheduledPayment) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO scheduled_payments (
			id, account_id, description,
			beneficiary, amount, schedule,
			is_active, last_execution_at, auth_token,
			created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			COALESCE($10, NOW()), COALESCE($11, NOW())
		)
		ON CONFLICT (id) DO NOTHING`,
		p.ID,
		p.AccountID,
		p.Description,
		p.Beneficiary,
		p.Amount,
		p.Schedule,
		p.IsActive,
		p.LastExecutionAt,
		nilIfEmpty(p.AuthToken),
		nilIfZeroTime(p.CreatedAt),
		nilIfZeroTime(p.UpdatedAt),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert scheduled payment", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindByID retrieves a scheduled payment by id. Returns (nil, nil) when no
// row exists; the caller decides whether absence is an error.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*types.ScheduledPayment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+spColumns+`
		 FROM scheduled_payments p
		 WHERE p.id = $1`,
		id,
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve scheduled payment", err)
	}
	return p, nil
}

// UpdatePartial applies the non-nil fields of upd to an existing payment and
// returns the updated row. Returns (nil, nil) when the payment does not
// exist. The activation flag and execution bookkeeping are deliberately not
// reachable from here; MarkExecuted owns those columns.
func (r *PaymentRepository) UpdatePartial(ctx context.Context, id string, upd types.PaymentUpdate) (*types.ScheduledPayment, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	if upd.AccountID != nil {
		setClauses = append(setClauses, fmt.Sprintf("account_id = $%d", argIdx))
		args = append(args, *upd.AccountID)
		argIdx++
	}
	if upd.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argIdx))
		args = append(args, *upd.Description)
		argIdx++
	}
	if upd.Beneficiary != nil {
		setClauses = append(setClauses, fmt.Sprintf("beneficiary = $%d", argIdx))
		args = append(args, upd.Beneficiary)
		argIdx++
	}
	if upd.Amount != nil {
		setClauses = append(setClauses, fmt.Sprintf("amount = $%d", argIdx))
		args = append(args, upd.Amount)
		argIdx++
	}
	if upd.Schedule != nil {
		setClauses = append(setClauses, fmt.Sprintf("schedule = $%d", argIdx))
		args = append(args, upd.Schedule)
		argIdx++
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(
		`UPDATE scheduled_payments p SET %s
		 WHERE p.id = $%d
		 RETURNING %s`,
		strings.Join(setClauses, ", "),
		argIdx,
		spColumns,
	)
	args = append(args, id)

	row := r.db.QueryRow(ctx, query, args...)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update scheduled payment", err)
	}
	return p, nil
}

// Delete removes a scheduled payment. Returns false when no row matched.
func (r *PaymentRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM scheduled_payments WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to delete scheduled payment", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindAllActive retrieves every active scheduled payment. Used by the due
// scanner on each tick; ordering by created_at keeps execution order stable
// across ticks.
func (r *PaymentRepository) FindAllActive(ctx context.Context) ([]*types.ScheduledPayment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+spColumns+`
		 FROM scheduled_payments p
		 WHERE p.is_active
		 ORDER BY p.created_at`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active scheduled payments", err)
	}
	defer rows.Close()

	var results []*types.ScheduledPayment
	for rows.Next() {
		p, scanErr := scanPayment(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan scheduled payment row", scanErr)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating scheduled payment rows", err)
	}

	return results, nil
}

// FindByAccount retrieves all scheduled payments for an account, active and
// inactive, ordered by creation time.
func (r *PaymentRepository) FindByAccount(ctx context.Context, accountID string) ([]*types.ScheduledPayment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+spColumns+`
		 FROM scheduled_payments p
		 WHERE p.account_id = $1
		 ORDER BY p.created_at`,
		accountID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list scheduled payments for account", err)
	}
	defer rows.Close()

	var results []*types.ScheduledPayment
	for rows.Next() {
		p, scanErr := scanPayment(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan scheduled payment row", scanErr)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating scheduled payment rows", err)
	}

	return results, nil
}

// MarkExecuted records a successful execution at executedAt, and deactivates
// the payment when deactivate is set (one-off payments after their single
// run). This is the only write path for is_active and last_execution_at.
func (r *PaymentRepository) MarkExecuted(ctx context.Context, id string, executedAt time.Time, deactivate bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_payments SET
			last_execution_at = $1,
			is_active = is_active AND NOT $2,
			updated_at = NOW()
		 WHERE id = $3`,
		executedAt, deactivate, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark scheduled payment executed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPayment, "scheduled payment not found", nil)
	}
	return nil
}

// CountActiveByAccount returns the number of active scheduled payments an
// account currently holds. Used for subscription limit enforcement.
func (r *PaymentRepository) CountActiveByAccount(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM scheduled_payments
		 WHERE account_id = $1 AND is_active`,
		accountID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count active scheduled payments", err)
	}
	return count, nil
}

// nilIfEmpty converts an empty string to nil for nullable text columns.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nilIfZeroTime converts a zero time to nil so the database default applies.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Package scheduler implements the due-payment scanning and execution loop.
//
// The scanner wakes on a fixed interval, takes one trusted-clock snapshot,
// loads every active scheduled payment and hands the due ones to the
// executor. The executor submits a transfer to the transfers service and
// records the execution in the store. A failed transfer is only logged; the
// payment stays eligible and is picked up again by a later scan.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"paysched/internal/types"
)

// TransferClient abstracts transfer submission. Implemented by
// external.HTTPTransferClient.
type TransferClient interface {
	Execute(ctx context.Context, transfer types.TransferRequest, authToken string) error
}

// ExecutionStore is the subset of the payment store the executor writes
// through.
type ExecutionStore interface {
	MarkExecuted(ctx context.Context, id string, executedAt time.Time, deactivate bool) error
}

// PaymentExecutor executes one due payment end to end.
type PaymentExecutor struct {
	transfers TransferClient
	store     ExecutionStore
	timeout   time.Duration
	logger    *slog.Logger
}

// NewPaymentExecutor creates a PaymentExecutor. The timeout bounds each
// individual transfer call.
func NewPaymentExecutor(transfers TransferClient, store ExecutionStore, timeout time.Duration, logger *slog.Logger) *PaymentExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentExecutor{
		transfers: transfers,
		store:     store,
		timeout:   timeout,
		logger:    logger,
	}
}

// Execute submits the transfer for one due payment and records the execution
// at the scan's clock snapshot. One-off payments are deactivated after their
// single run; recurring payments stay active and the recorded execution time
// suppresses a second firing on the same calendar day.
//
// The transfer is not retried here. A failure leaves the payment untouched so
// the next scan evaluates it again.
func (e *PaymentExecutor) Execute(ctx context.Context, p *types.ScheduledPayment, now time.Time) error {
	execCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	transfer := types.TransferRequest{
		Sender:   p.AccountID,
		Receiver: p.Beneficiary.IBAN,
		Quantity: p.Amount.Value,
		Currency: p.Amount.Currency,
	}

	if err := e.transfers.Execute(execCtx, transfer, p.AuthToken); err != nil {
		e.logger.ErrorContext(ctx, "transfer execution failed",
			slog.String("payment_id", p.ID),
			slog.String("account_id", p.AccountID),
			slog.Float64("amount", p.Amount.Value),
			slog.String("currency", p.Amount.Currency),
			slog.Any("error", err),
		)
		return err
	}

	deactivate := p.Schedule.Kind == types.ScheduleOnce
	if err := e.store.MarkExecuted(ctx, p.ID, now, deactivate); err != nil {
		// The transfer already went out. Until a later scan sees the updated
		// execution record, the payment can fire again; this is the
		// at-least-once window.
		e.logger.ErrorContext(ctx, "failed to record payment execution",
			slog.String("payment_id", p.ID),
			slog.Time("executed_at", now),
			slog.Any("error", err),
		)
		return err
	}

	e.logger.InfoContext(ctx, "scheduled payment executed",
		slog.String("payment_id", p.ID),
		slog.String("account_id", p.AccountID),
		slog.String("schedule_kind", string(p.Schedule.Kind)),
		slog.Float64("amount", p.Amount.Value),
		slog.String("currency", p.Amount.Currency),
		slog.Bool("deactivated", deactivate),
	)
	return nil
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"siniopay/internal/account"
	"siniopay/internal/audit"
	"siniopay/internal/compliance"
	"siniopay/internal/logger"
	"siniopay/internal/metrics"
	"siniopay/internal/notification"
	"siniopay/internal/transaction"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "siniopay/internal/ledger"

// Dispatcher runs post-commit work outside the request path.
type Dispatcher interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

type Publisher interface {
	Publish(ctx context.Context, ev notification.Event) error
}

type Options struct {
	UnitTimeout time.Duration
	Async       Dispatcher
	Notifier    Publisher
	Audit       audit.Sink
	Monitor     *compliance.Monitor
	Tracer      trace.Tracer
}

type Engine struct {
	uow         UnitOfWork
	gate        compliance.Gate
	unitTimeout time.Duration
	async       Dispatcher
	notifier    Publisher
	audit       audit.Sink
	monitor     *compliance.Monitor
	tracer      trace.Tracer
	now         func() time.Time
}

func NewEngine(uow UnitOfWork, gate compliance.Gate, opts Options) *Engine {
	if gate == nil {
		gate = compliance.AllowAll
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Engine{
		uow:         uow,
		gate:        gate,
		unitTimeout: opts.UnitTimeout,
		async:       opts.Async,
		notifier:    opts.Notifier,
		audit:       opts.Audit,
		monitor:     opts.Monitor,
		tracer:      tracer,
		now:         time.Now,
	}
}

type TransferRequest struct {
	FromUserID string
	ToUserID   string
	Amount     decimal.Decimal
	Type       transaction.Type
	Metadata   types.JSONText
}

func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return ErrInvalidAmount
	}
	return nil
}

// ExecuteTransfer debits the sender's wallet and credits the recipient's in a
// single unit of work. Both accounts are locked in ascending id order and the
// funds check runs against the locked rows.
func (e *Engine) ExecuteTransfer(ctx context.Context, req TransferRequest) (transaction.Transaction, error) {
	ctx, span := e.tracer.Start(ctx, "ledger.ExecuteTransfer", trace.WithAttributes(
		attribute.String("transaction.type", string(req.Type)),
		attribute.String("amount", req.Amount.String()),
	))
	defer span.End()
	start := time.Now()

	tx, from, to, err := e.executeTransfer(ctx, req)
	outcome := outcomeOf(err, "completed")
	metrics.RecordTransfer(string(req.Type), outcome, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrContentionTimeout) {
			metrics.RecordContentionTimeout("transfer")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		logger.Warn("transfer rejected", "from_user_id", req.FromUserID, "to_user_id", req.ToUserID, "amount", req.Amount.String(), "outcome", outcome, "error", err)
		return transaction.Transaction{}, err
	}

	span.SetAttributes(attribute.String("transaction.id", tx.ID))
	logger.Info("transfer completed", "transaction_id", tx.ID, "from_account_id", from.ID, "to_account_id", to.ID, "amount", tx.Amount.StringFixed(2), "type", tx.Type)
	e.afterTransfer(ctx, tx, from, to)
	return tx, nil
}

func (e *Engine) executeTransfer(ctx context.Context, req TransferRequest) (transaction.Transaction, account.Account, account.Account, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return transaction.Transaction{}, account.Account{}, account.Account{}, err
	}
	if !req.Type.Valid() {
		return transaction.Transaction{}, account.Account{}, account.Account{}, fmt.Errorf("%w: %q", ErrInvalidTransactionType, req.Type)
	}
	if req.FromUserID == req.ToUserID {
		return transaction.Transaction{}, account.Account{}, account.Account{}, ErrSelfTransfer
	}

	ctx, cancel := e.unitContext(ctx)
	defer cancel()

	var (
		result   transaction.Transaction
		from, to account.Account
		held     *compliance.Assessment
	)
	err := e.uow.Do(ctx, func(ctx context.Context, u Unit) error {
		src, err := u.Accounts().FindByOwner(ctx, req.FromUserID)
		if err != nil {
			return accountLookupError("source", err)
		}
		dst, err := u.Accounts().FindByOwner(ctx, req.ToUserID)
		if err != nil {
			return accountLookupError("destination", err)
		}
		if src.ID == dst.ID {
			return ErrSelfTransfer
		}

		assessment := compliance.Assessment{
			FromUserID:    req.FromUserID,
			ToUserID:      req.ToUserID,
			FromAccountID: src.ID,
			ToAccountID:   dst.ID,
			Amount:        req.Amount,
			Currency:      src.Currency,
			Type:          req.Type,
			At:            e.now(),
		}
		decision, err := e.gate.Evaluate(ctx, assessment)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrComplianceUnavailable, err)
		}
		if !decision.Allowed {
			return fmt.Errorf("%w: %s", ErrComplianceRejected, decision.Reason)
		}
		held = &assessment

		locked, err := lockAccounts(ctx, u.Accounts(), src.ID, dst.ID)
		if err != nil {
			return err
		}
		src, dst = locked[src.ID], locked[dst.ID]

		if src.Balance.LessThan(req.Amount) {
			return ErrInsufficientFunds
		}
		if !src.IsActive() {
			return fmt.Errorf("%w: source account is %s", ErrAccountNotActive, src.Status)
		}
		if !dst.IsActive() {
			return fmt.Errorf("%w: destination account is %s", ErrAccountNotActive, dst.Status)
		}

		if from, err = u.Accounts().ApplyBalanceDelta(ctx, src.ID, req.Amount.Neg()); err != nil {
			return err
		}
		if to, err = u.Accounts().ApplyBalanceDelta(ctx, dst.ID, req.Amount); err != nil {
			return err
		}

		result, err = u.Transactions().Insert(ctx, transaction.Transaction{
			ID:            uuid.NewString(),
			FromAccountID: src.ID,
			ToAccountID:   dst.ID,
			Amount:        req.Amount,
			Currency:      src.Currency,
			Type:          req.Type,
			Status:        transaction.StatusCompleted,
			Metadata:      req.Metadata,
		})
		return err
	})
	if err != nil {
		if held != nil {
			e.releaseHold(ctx, *held, err)
		}
		return transaction.Transaction{}, account.Account{}, account.Account{}, err
	}
	return result, from, to, nil
}

// releaseHold returns the limit held by an approved transfer whose unit
// failed. After ErrStorageFailure the commit may have landed, so the hold
// stays and the day's total errs high.
func (e *Engine) releaseHold(ctx context.Context, a compliance.Assessment, cause error) {
	releaser, ok := e.gate.(compliance.Releaser)
	if !ok || errors.Is(cause, ErrStorageFailure) {
		return
	}
	if err := releaser.Release(context.WithoutCancel(ctx), a); err != nil {
		logger.Warn("failed to release compliance hold", "from_account_id", a.FromAccountID, "amount", a.Amount.StringFixed(2), "error", err)
	}
}

func (e *Engine) unitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.unitTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.unitTimeout)
}

// lockAccounts acquires exclusive locks in ascending id order regardless of
// transfer direction.
func lockAccounts(ctx context.Context, repo account.Repository, ids ...string) (map[string]account.Account, error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)

	out := make(map[string]account.Account, len(ordered))
	for _, id := range ordered {
		if _, done := out[id]; done {
			continue
		}
		a, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return nil, accountLookupError("lock", err)
		}
		out[id] = a
	}
	return out, nil
}

func accountLookupError(side string, err error) error {
	if errors.Is(err, account.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, side)
	}
	return err
}

func (e *Engine) afterTransfer(ctx context.Context, tx transaction.Transaction, from, to account.Account) {
	assessment := compliance.Assessment{
		TransactionID: tx.ID,
		FromUserID:    from.OwnerID,
		ToUserID:      to.OwnerID,
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Type:          tx.Type,
		At:            tx.CreatedAt,
	}

	if e.monitor != nil {
		e.dispatch(ctx, "compliance.review", func(ctx context.Context) error {
			return e.monitor.Review(ctx, assessment)
		})
	}
	if e.notifier != nil {
		e.dispatch(ctx, "notify.transfer", func(ctx context.Context) error {
			return errors.Join(
				e.notifier.Publish(ctx, transferEvent(notification.EventTransferSent, tx, from)),
				e.notifier.Publish(ctx, transferEvent(notification.EventTransferReceived, tx, to)),
			)
		})
	}
}

// dispatch hands fn to the async dispatcher. Without one, fn runs inline on a
// context detached from the caller's cancellation.
func (e *Engine) dispatch(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if e.async != nil {
		e.async.Submit(name, fn)
		return
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		metrics.RecordPostCommitTask(name, "failed")
		logger.Error("post-commit task failed", "task", name, "error", err)
		return
	}
	metrics.RecordPostCommitTask(name, "ok")
}

func transferEvent(kind notification.EventType, tx transaction.Transaction, a account.Account) notification.Event {
	return notification.Event{
		Type:          kind,
		UserID:        a.OwnerID,
		TransactionID: tx.ID,
		AccountNumber: a.AccountNumber,
		Amount:        tx.Amount.StringFixed(2),
		Currency:      tx.Currency,
		Balance:       a.Balance.StringFixed(2),
		OccurredAt:    tx.UpdatedAt,
	}
}

func outcomeOf(err error, success string) string {
	switch {
	case err == nil:
		return success
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrAccountNotActive):
		return "account_not_active"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidTransactionType), errors.Is(err, ErrSelfTransfer), errors.Is(err, ErrInvalidReviewer):
		return "invalid_request"
	case errors.Is(err, ErrComplianceRejected):
		return "compliance_rejected"
	case errors.Is(err, ErrComplianceUnavailable):
		return "compliance_unavailable"
	case errors.Is(err, ErrTransactionNotFound):
		return "transaction_not_found"
	case errors.Is(err, ErrInvalidReversalState), errors.Is(err, ErrInvalidFlagState):
		return "invalid_state"
	case errors.Is(err, ErrReversalWouldOverdraw):
		return "would_overdraw"
	case errors.Is(err, ErrContentionTimeout):
		return "contention_timeout"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "storage_failure"
	}
}

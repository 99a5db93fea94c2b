package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/facturio/facturio-api/internal/lock"
)

// TypeRecalculate is the asynq task type for background total recalculation.
const TypeRecalculate = "invoice:recalculate"

type recalculatePayload struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
}

// NewRecalculateTask builds the recalculation task for one invoice.
func NewRecalculateTask(invoiceID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(recalculatePayload{InvoiceID: invoiceID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TypeRecalculate, payload), nil
}

// AsynqEnqueuer implements Enqueuer on top of an asynq client.
type AsynqEnqueuer struct {
	Client   *asynq.Client
	MaxRetry int
}

// EnqueueRecalculate schedules a recalculation task. The task ID is derived
// from the invoice ID so repeated mutations of the same invoice collapse into
// one pending task.
func (e *AsynqEnqueuer) EnqueueRecalculate(ctx context.Context, invoiceID uuid.UUID) error {
	task, err := NewRecalculateTask(invoiceID)
	if err != nil {
		return err
	}
	_, err = e.Client.EnqueueContext(ctx, task,
		asynq.TaskID(fmt.Sprintf("recalc:%s", invoiceID)),
		asynq.MaxRetry(e.MaxRetry),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue %s: %w", TypeRecalculate, err)
	}
	return nil
}

// TaskHandler processes invoice background tasks. Locker is optional; when
// set, recalculations of the same invoice are serialised across workers.
type TaskHandler struct {
	Svc    *Service
	Locker *lock.Mutex
	Log    zerolog.Logger
}

// Register attaches the handlers to mux.
func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRecalculate, h.HandleRecalculate)
}

// HandleRecalculate recomputes stored totals for the invoice named in the
// task. An invoice deleted since enqueue is not a failure; retrying would
// never succeed.
func (h *TaskHandler) HandleRecalculate(ctx context.Context, t *asynq.Task) error {
	var p recalculatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	recalc := func(ctx context.Context) error {
		return h.Svc.Recalculate(ctx, p.InvoiceID)
	}
	var err error
	if h.Locker != nil {
		err = h.Locker.WithLock(ctx, "lock:"+TypeRecalculate+":"+p.InvoiceID.String(), recalc)
	} else {
		err = recalc(ctx)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvoiceNotFound):
		h.Log.Info().
			Str("invoice_id", p.InvoiceID.String()).
			Msg("invoice gone before recalculation, dropping task")
		return nil
	default:
		return err
	}
}

package attendance

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"qrattend/internal/directory"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
)

// JobReconcile is the queue message type carrying a StudentUpsert.
const JobReconcile = "reconcile"

// StudentUpsert is the identity data submitted with an accepted mark.
type StudentUpsert struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Reconciler hands an accepted mark's identity data to the student directory.
// Dispatch never reports failure to the caller.
type Reconciler interface {
	Dispatch(ctx context.Context, up StudentUpsert)
}

type noopReconciler struct{}

func (noopReconciler) Dispatch(context.Context, StudentUpsert) {}

// Reconcile upserts a student: an existing profile gets the submitted
// non-empty fields, a missing one is created with empty-string defaults.
// A create that loses a race with another mark for the same student falls
// back to updating the profile that won.
func Reconcile(ctx context.Context, dir directory.Directory, up StudentUpsert) error {
	existing, err := dir.FindByExternalID(ctx, up.StudentID)
	if err != nil {
		return fmt.Errorf("lookup student %s: %w", up.StudentID, err)
	}
	if existing != nil {
		return update(ctx, dir, existing.ID, up)
	}
	_, createErr := dir.Create(ctx, directory.Student{
		StudentID: up.StudentID,
		Name:      up.Name,
		Email:     up.Email,
		Phone:     up.Phone,
	})
	if createErr == nil {
		return nil
	}
	existing, err = dir.FindByExternalID(ctx, up.StudentID)
	if err != nil || existing == nil {
		return fmt.Errorf("create student %s: %w", up.StudentID, createErr)
	}
	return update(ctx, dir, existing.ID, up)
}

func update(ctx context.Context, dir directory.Directory, id string, up StudentUpsert) error {
	patch := directory.StudentPatch{
		Name:  nonEmpty(up.Name),
		Email: nonEmpty(up.Email),
		Phone: nonEmpty(up.Phone),
	}
	if _, err := dir.Update(ctx, id, patch); err != nil {
		return fmt.Errorf("update student %s: %w", up.StudentID, err)
	}
	return nil
}

func nonEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// reconcileLogged runs Reconcile, recording the outcome instead of returning it.
func reconcileLogged(ctx context.Context, dir directory.Directory, log *zap.Logger, up StudentUpsert) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.Reconcile.WithLabelValues("failure").Inc()
			log.Error("student reconciliation panicked",
				zap.String("student_id", up.StudentID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	if err := Reconcile(ctx, dir, up); err != nil {
		metrics.Reconcile.WithLabelValues("failure").Inc()
		log.Warn("student reconciliation failed", zap.String("student_id", up.StudentID), zap.Error(err))
		return
	}
	metrics.Reconcile.WithLabelValues("success").Inc()
	log.Debug("student reconciled", zap.String("student_id", up.StudentID))
}

// InlineReconciler reconciles before returning, detached from the request's
// cancellation and bounded by its own timeout.
type InlineReconciler struct {
	dir     directory.Directory
	log     *zap.Logger
	timeout time.Duration
}

// NewInlineReconciler creates an inline reconciler.
func NewInlineReconciler(dir directory.Directory, log *zap.Logger, timeout time.Duration) *InlineReconciler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &InlineReconciler{dir: dir, log: log, timeout: timeout}
}

func (r *InlineReconciler) Dispatch(ctx context.Context, up StudentUpsert) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	reconcileLogged(ctx, r.dir, r.log, up)
}

// QueueReconciler publishes reconciliation jobs for a Worker.
type QueueReconciler struct {
	q       queue.Queue
	log     *zap.Logger
	timeout time.Duration
}

// NewQueueReconciler creates a reconciler that enqueues jobs.
func NewQueueReconciler(q queue.Queue, log *zap.Logger, timeout time.Duration) *QueueReconciler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &QueueReconciler{q: q, log: log, timeout: timeout}
}

func (r *QueueReconciler) Dispatch(ctx context.Context, up StudentUpsert) {
	msg, err := queue.NewMessage(JobReconcile, up)
	if err != nil {
		r.log.Error("encode reconcile job", zap.String("student_id", up.StudentID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.q.Publish(ctx, msg); err != nil {
		metrics.Reconcile.WithLabelValues("failure").Inc()
		r.log.Warn("queue publish failed", zap.String("student_id", up.StudentID), zap.Error(err))
	}
}

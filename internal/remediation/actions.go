package remediation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stackwatch/stackwatch-ai/internal/audit"
	"github.com/stackwatch/stackwatch-ai/internal/metrics"
	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/platform"
	"github.com/stackwatch/stackwatch-ai/internal/store"
)

// ErrInvalidTransition is returned when a requested status change is
// outside the action state machine.
var ErrInvalidTransition = errors.New("action transition not allowed")

const terminalWriteTimeout = 5 * time.Second

// Executor applies approval decisions to proposed actions and runs
// approved ones against the platform.
type Executor struct {
	store    store.ActionStore
	ops      platform.ContainerOps
	pub      Publisher
	auditLog audit.Logger
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewExecutor builds the executor.
func NewExecutor(st store.ActionStore, ops platform.ContainerOps, pub Publisher, auditLog audit.Logger, logger *zap.Logger) *Executor {
	return &Executor{
		store:    st,
		ops:      ops,
		pub:      pub,
		auditLog: auditLog,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// actionLock returns the mutex serializing writers of one action.
func (e *Executor) actionLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

// dropLock forgets an action's mutex. Safe only after a terminal
// transition: a writer that raced the delete re-reads the action under
// its own lock and refuses to move a terminal record.
func (e *Executor) dropLock(id string) {
	e.mu.Lock()
	delete(e.locks, id)
	e.mu.Unlock()
}

func validActionTransition(from, to models.ActionStatus) bool {
	switch from {
	case models.ActionPending:
		return to == models.ActionApproved || to == models.ActionRejected
	case models.ActionApproved:
		return to == models.ActionExecuting
	case models.ActionExecuting:
		return to == models.ActionCompleted || to == models.ActionFailed
	default:
		return false
	}
}

// transition validates and persists a status change. When the change
// is refused or the write fails, the stored record is untouched.
func (e *Executor) transition(ctx context.Context, a *models.Action, to models.ActionStatus) error {
	if !validActionTransition(a.Status, to) {
		metrics.ActionTransitionsRejected.Inc()
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, a.Status, to)
	}
	from := a.Status
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateAction(ctx, a); err != nil {
		a.Status = from
		return fmt.Errorf("persist %s: %w", to, err)
	}
	metrics.ActionTransitions.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

// Approve moves a pending action to approved on behalf of an operator.
func (e *Executor) Approve(ctx context.Context, id, approver string) (*models.Action, error) {
	lock := e.actionLock(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := e.store.GetAction(ctx, id)
	if err != nil {
		return nil, err
	}
	a.ApprovedBy = approver
	if err := e.transition(ctx, a, models.ActionApproved); err != nil {
		return nil, err
	}

	if e.auditLog != nil {
		_ = e.auditLog.LogActionApproved(ctx, string(a.Type), a.ContainerName, approver)
	}
	if e.pub != nil {
		e.pub.Publish("action.approved", a)
	}
	e.logger.Info("action approved",
		zap.String("action", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("approver", approver))
	return a, nil
}

// Reject moves a pending action to rejected on behalf of an operator.
func (e *Executor) Reject(ctx context.Context, id, rejecter, reason string) (*models.Action, error) {
	lock := e.actionLock(id)
	lock.Lock()

	a, err := e.store.GetAction(ctx, id)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	a.RejectedBy = rejecter
	a.RejectionReason = reason
	if err := e.transition(ctx, a, models.ActionRejected); err != nil {
		lock.Unlock()
		return nil, err
	}
	lock.Unlock()
	e.dropLock(id)

	if e.auditLog != nil {
		_ = e.auditLog.LogActionRejected(ctx, string(a.Type), a.ContainerName, rejecter, reason)
	}
	if e.pub != nil {
		e.pub.Publish("action.rejected", a)
	}
	e.logger.Info("action rejected",
		zap.String("action", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("rejecter", rejecter),
		zap.String("reason", reason))
	return a, nil
}

// Execute runs an approved action against the platform. The platform
// operation is attempted exactly once per executing transition; its
// outcome is recorded on the action and never retried. The returned
// action carries the terminal state, completed or failed.
func (e *Executor) Execute(ctx context.Context, id string) (*models.Action, error) {
	lock := e.actionLock(id)
	lock.Lock()

	a, err := e.store.GetAction(ctx, id)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := e.transition(ctx, a, models.ActionExecuting); err != nil {
		lock.Unlock()
		return nil, err
	}
	if e.pub != nil {
		e.pub.Publish("action.executing", a)
	}
	e.logger.Info("action executing",
		zap.String("action", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("container", a.ContainerName))

	start := time.Now()
	opErr := e.perform(ctx, a)
	elapsed := time.Since(start)

	// The operation may have taken effect even if the caller has gone
	// away; the outcome write must not be lost to cancellation.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	now := time.Now().UTC()
	a.DurationMS = elapsed.Milliseconds()
	a.ExecutedAt = &now
	metrics.ActionExecutionDuration.WithLabelValues(string(a.Type)).Observe(elapsed.Seconds())

	if opErr != nil {
		a.Result = opErr.Error()
		if err := e.transition(persistCtx, a, models.ActionFailed); err != nil {
			lock.Unlock()
			return nil, err
		}
		lock.Unlock()
		e.dropLock(id)

		if e.auditLog != nil {
			_ = e.auditLog.LogActionFailed(persistCtx, string(a.Type), a.ContainerName, opErr)
		}
		if e.pub != nil {
			e.pub.Publish("action.failed", a)
		}
		e.logger.Warn("action execution failed",
			zap.String("action", a.ID),
			zap.String("type", string(a.Type)),
			zap.String("container", a.ContainerName),
			zap.Error(opErr))
		return a, nil
	}

	a.Result = resultFor(a.Type)
	if err := e.transition(persistCtx, a, models.ActionCompleted); err != nil {
		lock.Unlock()
		return nil, err
	}
	lock.Unlock()
	e.dropLock(id)

	if e.auditLog != nil {
		_ = e.auditLog.LogActionExecuted(persistCtx, string(a.Type), a.ContainerName, elapsed)
	}
	if e.pub != nil {
		e.pub.Publish("action.completed", a)
	}
	e.logger.Info("action executed",
		zap.String("action", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("container", a.ContainerName),
		zap.Duration("elapsed", elapsed))
	return a, nil
}

// perform invokes the platform operation for the action's type.
func (e *Executor) perform(ctx context.Context, a *models.Action) error {
	switch a.Type {
	case models.ActionStopContainer:
		return e.ops.StopContainer(ctx, a.EndpointID, a.ContainerID)
	case models.ActionRestartContainer:
		return e.ops.RestartContainer(ctx, a.EndpointID, a.ContainerID)
	case models.ActionStartContainer:
		return e.ops.StartContainer(ctx, a.EndpointID, a.ContainerID)
	default:
		return fmt.Errorf("unsupported action type %q", a.Type)
	}
}

func resultFor(t models.ActionType) string {
	switch t {
	case models.ActionStopContainer:
		return "container stopped"
	case models.ActionRestartContainer:
		return "container restarted"
	case models.ActionStartContainer:
		return "container started"
	default:
		return "done"
	}
}

package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	dedupPolicyDrop     = "drop"
	parameterProviderID = "provider_id"
	parameterAttempt    = "attempt"
	defaultIdleDelay    = time.Second
	loggerName          = "credentials.maintenance"
)

// CredentialMaintainer is the slice of core.CredentialManager the maintenance
// jobs drive.
type CredentialMaintainer interface {
	ProviderID() string
	RenewExpiring(ctx context.Context) (core.RenewalReport, error)
	ExpireStaleAuthorizations(ctx context.Context) (int, error)
}

type attemptNacker interface {
	NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error
}

// Maintenance schedules and executes the background credential sweeps over a
// go-job queue.
type Maintenance struct {
	maintainer     CredentialMaintainer
	policy         RetryPolicy
	logger         glog.Logger
	loggerProvider glog.LoggerProvider
	idleDelay      time.Duration
	hook           core.JobWorkerHook
	now            func() time.Time
}

type MaintenanceOption func(*Maintenance)

func WithMaintenanceLogger(logger glog.Logger) MaintenanceOption {
	return func(m *Maintenance) {
		m.logger = logger
	}
}

func WithMaintenanceLoggerProvider(provider glog.LoggerProvider) MaintenanceOption {
	return func(m *Maintenance) {
		m.loggerProvider = provider
	}
}

// WithMaintenanceHook reports the start and the outcome of every sweep.
func WithMaintenanceHook(hook core.JobWorkerHook) MaintenanceOption {
	return func(m *Maintenance) {
		m.hook = hook
	}
}

func WithIdleDelay(delay time.Duration) MaintenanceOption {
	return func(m *Maintenance) {
		if delay > 0 {
			m.idleDelay = delay
		}
	}
}

func NewMaintenance(maintainer CredentialMaintainer, policy RetryPolicy, opts ...MaintenanceOption) (*Maintenance, error) {
	if maintainer == nil {
		return nil, fmt.Errorf("gojob: credential maintainer is required")
	}
	m := &Maintenance{
		maintainer: maintainer,
		policy:     policy,
		idleDelay:  defaultIdleDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.loggerProvider, m.logger = glog.Resolve(loggerName, m.loggerProvider, m.logger)
	m.logger = glog.Ensure(m.logger)
	return m, nil
}

// JobLoggerProvider bridges the resolved logger provider to go-job so the
// worker consuming maintenance messages logs through the same backend.
func (m *Maintenance) JobLoggerProvider() job.LoggerProvider {
	if m == nil || m.loggerProvider == nil {
		return nil
	}
	return job.GoLoggerProvider(m.loggerProvider)
}

// JobLogger is the go-job view of the maintenance logger.
func (m *Maintenance) JobLogger() job.Logger {
	if m == nil {
		return nil
	}
	return job.GoLogger(m.logger)
}

// WorkerHook adapts the maintenance hook for a go-job worker that consumes the
// sweep messages itself instead of Run.
func (m *Maintenance) WorkerHook() worker.Hook {
	if m == nil || m.hook == nil {
		return nil
	}
	return NewWorkerHookAdapter(m.hook)
}

// Messages returns the sweep messages for the window that contains at. The
// idempotency key collapses duplicate schedules inside one window.
func (m *Maintenance) Messages(at time.Time, window time.Duration) []*core.JobExecutionMessage {
	if window <= 0 {
		window = time.Minute
	}
	bucket := at.UTC().Truncate(window).Format(time.RFC3339)
	providerID := m.maintainer.ProviderID()
	out := make([]*core.JobExecutionMessage, 0, 2)
	for _, jobID := range []string{JobIDExpireAuthorizations, JobIDRenewCredentials} {
		out = append(out, &core.JobExecutionMessage{
			JobID:          jobID,
			ScriptPath:     jobID,
			Parameters:     map[string]any{parameterProviderID: providerID, parameterAttempt: 1},
			IdempotencyKey: strings.Join([]string{jobID, providerID, bucket}, ":"),
			DedupPolicy:    dedupPolicyDrop,
		})
	}
	return out
}

// Schedule enqueues both sweeps for the window containing at.
func (m *Maintenance) Schedule(ctx context.Context, enqueuer core.JobEnqueuer, at time.Time, window time.Duration) error {
	if enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is required")
	}
	for _, msg := range m.Messages(at, window) {
		if err := enqueuer.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("gojob: enqueue %s: %w", msg.JobID, err)
		}
	}
	return nil
}

// Handle executes one delivery and acks or nacks it.
func (m *Maintenance) Handle(ctx context.Context, delivery core.JobDelivery) error {
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "empty message"})
	}
	attempt := attemptFromParameters(msg.Parameters)
	event := core.JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: m.now()}
	if provider := parameterString(msg.Parameters, parameterProviderID); provider != "" && !strings.EqualFold(provider, m.maintainer.ProviderID()) {
		return m.fail(ctx, delivery, event, core.JobNackOptions{DeadLetter: true, Reason: "provider mismatch: " + provider})
	}
	m.emit(ctx, core.JobWorkerHook.OnStart, event)

	var err error
	switch msg.JobID {
	case JobIDRenewCredentials:
		var report core.RenewalReport
		report, err = m.maintainer.RenewExpiring(ctx)
		if err == nil && len(report.FailedResources) > 0 {
			m.logger.Warn("credential renewal left resources unavailable",
				"provider_id", m.maintainer.ProviderID(),
				"failed_resources", report.FailedResources,
			)
		}
	case JobIDExpireAuthorizations:
		var expired int
		expired, err = m.maintainer.ExpireStaleAuthorizations(ctx)
		if err == nil && expired > 0 {
			m.logger.Info("expired stale authorizations", "provider_id", m.maintainer.ProviderID(), "expired", expired)
		}
	default:
		return m.fail(ctx, delivery, event, core.JobNackOptions{DeadLetter: true, Reason: "unknown job " + msg.JobID})
	}
	event.Duration = m.now().Sub(event.StartedAt)

	if err != nil {
		m.logger.Error("credential maintenance job failed", "job_id", msg.JobID, "attempt", attempt, "error", err)
		event.Err = err
		return m.fail(ctx, delivery, event, core.JobNackOptions{
			Delay:   m.policy.BackoffDelay(attempt),
			Requeue: true,
			Reason:  err.Error(),
		})
	}
	if ackErr := delivery.Ack(ctx); ackErr != nil {
		return ackErr
	}
	m.emit(ctx, core.JobWorkerHook.OnSuccess, event)
	return nil
}

// fail settles a failed delivery and reports a retry when the queue will
// deliver it again, a failure otherwise.
func (m *Maintenance) fail(ctx context.Context, delivery core.JobDelivery, event core.JobWorkerEvent, opts core.JobNackOptions) error {
	normalized := m.policy.NormalizeAttempt(opts, event.Attempt)
	if event.Err == nil && normalized.Reason != "" {
		event.Err = errors.New(normalized.Reason)
	}
	if nackErr := m.nack(ctx, delivery, opts, event.Attempt); nackErr != nil {
		return nackErr
	}
	if normalized.Requeue {
		event.Delay = normalized.Delay
		m.emit(ctx, core.JobWorkerHook.OnRetry, event)
		return nil
	}
	m.emit(ctx, core.JobWorkerHook.OnFailure, event)
	return nil
}

func (m *Maintenance) emit(ctx context.Context, call func(core.JobWorkerHook, context.Context, core.JobWorkerEvent), event core.JobWorkerEvent) {
	if m.hook == nil {
		return
	}
	call(m.hook, ctx, event)
}

// Run consumes deliveries until ctx is cancelled.
func (m *Maintenance) Run(ctx context.Context, dequeuer core.JobDequeuer) error {
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is required")
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("credential maintenance dequeue failed", "error", err)
		}
		if err != nil || delivery == nil {
			if waitErr := waitWithContext(ctx, m.idleDelay); waitErr != nil {
				return nil
			}
			continue
		}
		if err := m.Handle(ctx, delivery); err != nil {
			m.logger.Warn("credential maintenance delivery settlement failed", "error", err)
		}
	}
}

func (m *Maintenance) nack(ctx context.Context, delivery core.JobDelivery, opts core.JobNackOptions, attempt int) error {
	if nacker, ok := delivery.(attemptNacker); ok {
		return nacker.NackForAttempt(ctx, opts, attempt)
	}
	return delivery.Nack(ctx, m.policy.NormalizeAttempt(opts, attempt))
}

func attemptFromParameters(params map[string]any) int {
	switch value := params[parameterAttempt].(type) {
	case int:
		if value > 0 {
			return value
		}
	case int64:
		if value > 0 {
			return int(value)
		}
	case float64:
		if value > 0 {
			return int(value)
		}
	}
	return 1
}

func parameterString(params map[string]any, key string) string {
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

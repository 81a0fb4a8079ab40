package gojob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-credentials/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestSweepMessagesSurviveQueueMapping(t *testing.T) {
	maintenance, err := NewMaintenance(&stubMaintainer{}, DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("new maintenance: %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 7, 0, 0, time.UTC)
	for _, sweep := range maintenance.Messages(at, 5*time.Minute) {
		queued := ToExecutionMessage(sweep)
		if queued.ScriptPath != sweep.JobID {
			t.Fatalf("%s: expected script path to default to the job id, got %q", sweep.JobID, queued.ScriptPath)
		}
		back := FromExecutionMessage(queued)
		if back.JobID != sweep.JobID || back.IdempotencyKey != sweep.IdempotencyKey {
			t.Fatalf("%s: identity lost in mapping, got %#v", sweep.JobID, back)
		}
		if parameterString(back.Parameters, parameterProviderID) != "youtube" || attemptFromParameters(back.Parameters) != 1 {
			t.Fatalf("%s: sweep parameters lost in mapping, got %#v", sweep.JobID, back.Parameters)
		}
		back.Parameters[parameterAttempt] = 9
		if attemptFromParameters(sweep.Parameters) != 1 {
			t.Fatalf("%s: mapping must copy parameters", sweep.JobID)
		}
	}
	if FromExecutionMessage(nil) != nil || ToExecutionMessage(nil) != nil {
		t.Fatalf("expected nil messages to map to nil")
	}
}

func TestScheduledSweepsDrainThroughQueueAdapters(t *testing.T) {
	ctx := context.Background()
	maintainer := &stubMaintainer{}
	maintenance, err := NewMaintenance(maintainer, DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("new maintenance: %v", err)
	}
	backlog := &memoryQueue{}
	if err := maintenance.Schedule(ctx, NewEnqueuerAdapter(backlog), time.Now(), time.Minute); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	dequeuer := NewDequeuerAdapter(backlog, DefaultRetryPolicy())
	for {
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if delivery == nil {
			break
		}
		if err := maintenance.Handle(ctx, delivery); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if maintainer.renewCalls != 1 || maintainer.expireCalls != 1 {
		t.Fatalf("expected both sweeps to run once, got renew=%d expire=%d", maintainer.renewCalls, maintainer.expireCalls)
	}
	if backlog.acked != 2 || backlog.nacked != 0 {
		t.Fatalf("expected both sweeps acked, got acked=%d nacked=%d", backlog.acked, backlog.nacked)
	}
}

func TestRenewalNackStaysInsideRetryPolicy(t *testing.T) {
	ctx := context.Background()
	raw := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDRenewCredentials, ScriptPath: JobIDRenewCredentials}}
	policy := RetryPolicy{MaxAttempts: 2, MaxDelay: 4 * time.Second, DeadLetterOnMax: true}
	delivery := NewDeliveryAdapter(raw, policy)

	if err := delivery.NackForAttempt(ctx, core.JobNackOptions{Delay: time.Minute, Reason: "  provider down  "}, 1); err != nil {
		t.Fatalf("first nack: %v", err)
	}
	if !raw.nackOpts.Requeue || raw.nackOpts.Delay != 4*time.Second || raw.nackOpts.Reason != "provider down" {
		t.Fatalf("expected a bounded requeue, got %#v", raw.nackOpts)
	}

	if err := delivery.NackForAttempt(ctx, core.JobNackOptions{Requeue: true}, 2); err != nil {
		t.Fatalf("last nack: %v", err)
	}
	if raw.nackOpts.Requeue || !raw.nackOpts.DeadLetter {
		t.Fatalf("expected the last attempt to be dead lettered, got %#v", raw.nackOpts)
	}
}

func TestRetryPolicyBackoffDelay(t *testing.T) {
	policy := DefaultRetryPolicy()
	previous := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		delay := policy.BackoffDelay(attempt)
		if delay < previous || delay > policy.MaxDelay {
			t.Fatalf("attempt %d: delay %s outside (%s, %s]", attempt, delay, previous, policy.MaxDelay)
		}
		previous = delay
	}
	if policy.BackoffDelay(0) != policy.InitialDelay {
		t.Fatalf("expected attempt 0 to use the initial delay")
	}
	if got := (RetryPolicy{}).BackoffDelay(3); got != 2*time.Second {
		t.Fatalf("expected zero policy to fall back to 500ms doubling, got %s", got)
	}
}

func TestMaintenanceWorkerHookForwardsWorkerEvents(t *testing.T) {
	events := &sweepEvents{}
	maintenance, err := NewMaintenance(&stubMaintainer{}, DefaultRetryPolicy(), WithMaintenanceHook(events))
	if err != nil {
		t.Fatalf("new maintenance: %v", err)
	}
	hook := maintenance.WorkerHook()
	if hook == nil {
		t.Fatalf("expected a worker hook when a maintenance hook is configured")
	}

	queued := &job.ExecutionMessage{JobID: JobIDExpireAuthorizations, ScriptPath: JobIDExpireAuthorizations}
	hook.OnRetry(context.Background(), worker.Event{
		Delivery: &stubQueueDelivery{msg: queued},
		Attempt:  3,
		Delay:    8 * time.Second,
		Err:      errors.New("store timeout"),
		Duration: 40 * time.Millisecond,
	})

	got := events.snapshot()
	if len(got) != 1 || got[0].kind != "retry" {
		t.Fatalf("expected one retry event, got %#v", got)
	}
	event := got[0].event
	if event.Message == nil || event.Message.JobID != JobIDExpireAuthorizations {
		t.Fatalf("expected the delivery message to be mapped, got %#v", event.Message)
	}
	if event.Attempt != 3 || event.Delay != 8*time.Second || event.Duration != 40*time.Millisecond {
		t.Fatalf("unexpected event timing %#v", event)
	}
	if event.Err == nil || event.Err.Error() != "store timeout" {
		t.Fatalf("expected the worker error, got %v", event.Err)
	}

	bare, err := NewMaintenance(&stubMaintainer{}, DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("new maintenance: %v", err)
	}
	if bare.WorkerHook() != nil {
		t.Fatalf("expected no worker hook without a maintenance hook")
	}
}

type memoryQueue struct {
	pending []*job.ExecutionMessage
	acked   int
	nacked  int
}

func (q *memoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	q.pending = append(q.pending, msg)
	return nil
}

func (q *memoryQueue) Dequeue(context.Context) (queue.Delivery, error) {
	if len(q.pending) == 0 {
		return nil, nil
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	return &queuedDelivery{queue: q, msg: next}, nil
}

type queuedDelivery struct {
	queue *memoryQueue
	msg   *job.ExecutionMessage
}

func (d *queuedDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *queuedDelivery) Ack(context.Context) error {
	d.queue.acked++
	return nil
}

func (d *queuedDelivery) Nack(context.Context, queue.NackOptions) error {
	d.queue.nacked++
	return nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type recordedSweepEvent struct {
	kind  string
	event core.JobWorkerEvent
}

type sweepEvents struct {
	mu     sync.Mutex
	events []recordedSweepEvent
}

func (s *sweepEvents) record(kind string, event core.JobWorkerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedSweepEvent{kind: kind, event: event})
}

func (s *sweepEvents) snapshot() []recordedSweepEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedSweepEvent(nil), s.events...)
}

func (s *sweepEvents) kinds() []string {
	out := []string{}
	for _, item := range s.snapshot() {
		out = append(out, item.kind)
	}
	return out
}

func (s *sweepEvents) OnStart(_ context.Context, event core.JobWorkerEvent) {
	s.record("start", event)
}

func (s *sweepEvents) OnSuccess(_ context.Context, event core.JobWorkerEvent) {
	s.record("success", event)
}

func (s *sweepEvents) OnFailure(_ context.Context, event core.JobWorkerEvent) {
	s.record("failure", event)
}

func (s *sweepEvents) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	s.record("retry", event)
}

package gocommand

import (
	"context"
	"fmt"
	"strings"

	credcommand "github.com/goliatone/go-credentials/command"
	credquery "github.com/goliatone/go-credentials/query"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so maintenance commands can also be enqueued.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

// Dispatch validates msg and sends it to the subscribed command handler.
func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

// Query validates msg and returns the subscribed query handler's answer.
func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// SubscribeQuery routes a query through the dispatcher. Queries are not
// mirrored into the registry since they are never enqueued.
func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...), nil
}

// Registration holds the dispatcher subscriptions of a credentials wiring.
type Registration struct {
	subscriptions []commanddispatcher.Subscription
}

func (r *Registration) Len() int {
	if r == nil {
		return 0
	}
	return len(r.subscriptions)
}

// Close unsubscribes every handler registered by RegisterCredentials.
func (r *Registration) Close() {
	if r == nil {
		return
	}
	for _, subscription := range r.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	r.subscriptions = nil
}

type SessionBackend interface {
	credcommand.SessionService
	credquery.SessionReader
}

type CredentialBackend interface {
	credcommand.CredentialService
	credquery.CredentialStatusReader
	credquery.ProviderInfoReader
}

// RegisterCredentials subscribes every session and credential command and
// query. A nil backend skips its group. On failure nothing stays subscribed.
func RegisterCredentials(
	adapter *RegistryAdapter,
	sessions SessionBackend,
	credentials CredentialBackend,
	runnerOpts ...runner.Option,
) (*Registration, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	reg := &Registration{}
	steps := []func() (commanddispatcher.Subscription, error){}

	if sessions != nil {
		steps = append(steps,
			func() (commanddispatcher.Subscription, error) {
				return RegisterAndSubscribe(adapter, credcommand.NewLoginCommand(sessions), runnerOpts...)
			},
			func() (commanddispatcher.Subscription, error) {
				return RegisterAndSubscribe(adapter, credcommand.NewLogoutCommand(sessions), runnerOpts...)
			},
			func() (commanddispatcher.Subscription, error) {
				return RegisterAndSubscribe(adapter, credcommand.NewVerifySessionCommand(sessions), runnerOpts...)
			},
			func() (commanddispatcher.Subscription, error) {
				return RegisterAndSubscribe(adapter, credcommand.NewRefreshSessionCommand(sessions), runnerOpts...)
			},
			func() (commanddispatcher.Subscription, error) {
				return RegisterAndSubscribe(adapter, credcommand.NewChangePasswordCommand(sessions), runnerOpts...)
			},
			func() (commanddispatcher.Subscription, error) {
				return SubscribeQuery(credquery.NewCurrentSessionQuery(sessions), runnerOpts...)
			},
		)
	}
	if credentials != nil {
		steps = append(steps,
			func() (commanddispatcher.Subscription, error) {
				return RegisterAndSubscribe(adapter, credcommand.NewBeginAuthorizationCommand(credentials), runnerOpts...)
			},
			func() (commanddispatcher.Subscription, error) {
				return RegisterAndSubscribe(adapter, credcommand.NewExchangeCodeCommand(credentials), runnerOpts...)
			},
			func() (commanddispatcher.Subscription, error) {
				return RegisterAndSubscribe(adapter, credcommand.NewCancelAuthorizationCommand(credentials), runnerOpts...)
			},
			func() (commanddispatcher.Subscription, error) {
				return RegisterAndSubscribe(adapter, credcommand.NewEnsureValidCommand(credentials), runnerOpts...)
			},
			func() (commanddispatcher.Subscription, error) {
				return RegisterAndSubscribe(adapter, credcommand.NewRevokeCommand(credentials), runnerOpts...)
			},
			func() (commanddispatcher.Subscription, error) {
				return RegisterAndSubscribe(adapter, credcommand.NewRenewExpiringCommand(credentials), runnerOpts...)
			},
			func() (commanddispatcher.Subscription, error) {
				return RegisterAndSubscribe(adapter, credcommand.NewExpireStaleAuthorizationsCommand(credentials), runnerOpts...)
			},
			func() (commanddispatcher.Subscription, error) {
				return SubscribeQuery(credquery.NewCredentialStatusQuery(credentials), runnerOpts...)
			},
			func() (commanddispatcher.Subscription, error) {
				return SubscribeQuery(credquery.NewProviderInfoQuery(credentials), runnerOpts...)
			},
		)
	}

	for _, step := range steps {
		subscription, err := step()
		if err != nil {
			reg.Close()
			return nil, err
		}
		reg.subscriptions = append(reg.subscriptions, subscription)
	}
	return reg, nil
}

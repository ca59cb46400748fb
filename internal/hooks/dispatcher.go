package hooks

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/mslink/internal/users"
	"go.uber.org/zap"
)

// DispatcherConfig bundles configuration for the post-auth dispatcher.
type DispatcherConfig struct {
	Registry *Registry
	// AuthenticateHookName selects the registered hook; empty disables
	// dispatch.
	AuthenticateHookName string
	Logger               *zap.Logger
}

// Dispatcher invokes the configured post-authentication hook. The hook name
// is resolved once at construction so misconfiguration fails at startup.
type Dispatcher struct {
	hook   AuthenticateHook
	logger *zap.Logger
}

// NewDispatcher resolves and validates the configured hook.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var hook AuthenticateHook
	if cfg.Registry != nil {
		resolved, err := cfg.Registry.ResolveAuthenticate(cfg.AuthenticateHookName)
		if err != nil {
			return nil, err
		}
		hook = resolved
	}

	return &Dispatcher{hook: hook, logger: logger}, nil
}

// Dispatch calls the hook with the resolved user and the attempt's raw token.
// Hook errors propagate unchanged; swallowing them would hide integration
// bugs in trusted deployment code.
func (d *Dispatcher) Dispatch(ctx context.Context, user *users.User, token any) error {
	if d.hook == nil {
		return nil
	}

	started := time.Now()
	err := d.hook(ctx, user, token)
	d.logger.Debug("authenticate hook dispatched",
		zap.String("user_id", user.ID),
		zap.Duration("elapsed", time.Since(started)),
		zap.Error(err))
	return err
}

// NewLoggingHook returns a built-in hook that records each successful
// authentication. Registered under the name "log_authentication".
func NewLoggingHook(logger *zap.Logger) AuthenticateHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, user *users.User, _ any) error {
		logger.Info("user authenticated",
			zap.String("user_id", user.ID),
			zap.String("username", user.Username))
		return nil
	}
}

// LoggingHookName is the registry name of the built-in logging hook.
const LoggingHookName = "log_authentication"

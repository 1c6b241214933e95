// Package signup implements the sign-up form controller: it owns the form
// values, validates them, submits new accounts to the Account Service and
// starts federated sign-in through the OAuth Broker.
//
// The presentation layer drives it: field edits and the submit trigger go
// in, state, field errors, the submitting flag and notifications come out.
// The controller never runs two submissions at once on its own; callers
// are expected to disable submit while Submitting reports true.
package signup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/aanand-mishra/signup/internal/account"
	"github.com/aanand-mishra/signup/internal/oauth"
	"github.com/aanand-mishra/signup/internal/types"
)

const (
	MsgAccountCreated    = "Account created successfully!"
	MsgFederatedSignedIn = "Google login successful!"
)

// Notifier receives whole-screen notifications.
type Notifier interface {
	Notify(n types.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(types.Notification)

func (f NotifierFunc) Notify(n types.Notification) { f(n) }

// FederatedConfig is the static OAuth client registration.
type FederatedConfig struct {
	ClientID    string
	RedirectURI string
}

// Controller is the sign-up form controller.
type Controller struct {
	accounts  account.Service
	broker    oauth.Broker
	federated FederatedConfig
	notifier  Notifier
	log       *slog.Logger

	mu        sync.Mutex
	state     types.FormState
	fieldErrs types.ErrorMap
	phase     types.Phase
}

// New returns an idle controller with an empty form. broker may be nil
// when federated sign-in is not configured.
func New(accounts account.Service, broker oauth.Broker, federated FederatedConfig, notifier Notifier, log *slog.Logger) *Controller {
	if notifier == nil {
		notifier = NotifierFunc(func(types.Notification) {})
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		accounts:  accounts,
		broker:    broker,
		federated: federated,
		notifier:  notifier,
		log:       log,
		fieldErrs: types.ErrorMap{},
	}
}

func (c *Controller) SetName(v string)        { c.edit(func(s *types.FormState) { s.Name = v }) }
func (c *Controller) SetEmail(v string)       { c.edit(func(s *types.FormState) { s.Email = v }) }
func (c *Controller) SetPassword(v string)    { c.edit(func(s *types.FormState) { s.Password = v }) }
func (c *Controller) SetConfirm(v string)     { c.edit(func(s *types.FormState) { s.Confirm = v }) }
func (c *Controller) SetAcceptedTerms(v bool) { c.edit(func(s *types.FormState) { s.AcceptedTerms = v }) }

func (c *Controller) edit(fn func(*types.FormState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
}

// State returns a copy of the current form values.
func (c *Controller) State() types.FormState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Errors returns a copy of the field errors from the last submit attempt.
func (c *Controller) Errors() types.ErrorMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.fieldErrs)
}

func (c *Controller) Phase() types.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Submitting reports whether an account creation request is in flight.
func (c *Controller) Submitting() bool {
	return c.Phase() == types.PhaseSubmitting
}

// Submit validates the form and, when it is clean, asks the Account
// Service to create the account.
//
// Field errors are stored, returned, and block the request; they are not
// an error. A rejected request leaves the form untouched, emits a failure
// notification with the service's message and returns that error. The
// controller is back in the idle phase whenever Submit returns or panics.
func (c *Controller) Submit(ctx context.Context) (types.ErrorMap, error) {
	c.mu.Lock()
	state := c.state
	fieldErrs := Validate(state)
	c.fieldErrs = fieldErrs
	if len(fieldErrs) > 0 {
		c.mu.Unlock()
		c.log.Debug("sign-up blocked by field errors", slog.Int("count", len(fieldErrs)))
		return maps.Clone(fieldErrs), nil
	}
	c.phase = types.PhaseSubmitting
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.phase = types.PhaseIdle
		c.mu.Unlock()
	}()

	c.log.Info("creating account")
	acct, err := c.accounts.CreateAccount(ctx, state.Email, state.Password)
	if err != nil {
		msg := err.Error()
		var acctErr *account.Error
		if !errors.As(err, &acctErr) {
			acctErr = &account.Error{Message: msg, Err: err}
		}
		c.log.Warn("account creation failed",
			slog.String("code", acctErr.Code),
			slog.String("error", msg))
		c.notifier.Notify(types.Notification{Kind: types.NotifyFailure, Message: msg})
		return types.ErrorMap{}, acctErr
	}

	c.mu.Lock()
	c.state = types.FormState{}
	c.fieldErrs = types.ErrorMap{}
	c.mu.Unlock()

	c.log.Info("account created", slog.String("local_id", acct.LocalID))
	c.notifier.Notify(types.Notification{Kind: types.NotifySuccess, Message: MsgAccountCreated})
	return types.ErrorMap{}, nil
}

// StartFederatedSignIn hands control to the OAuth Broker. It returns once
// the flow has started; the outcome is delivered to Listen.
func (c *Controller) StartFederatedSignIn(ctx context.Context) error {
	if c.broker == nil {
		return errors.New("signup: federated sign-in is not configured")
	}
	if err := c.broker.Authorize(ctx, c.federated.ClientID, c.federated.RedirectURI); err != nil {
		return fmt.Errorf("signup: start federated sign-in: %w", err)
	}
	return nil
}

// Listen consumes broker completion events until ctx is done or the
// broker's channel closes. Call it once, in its own goroutine.
func (c *Controller) Listen(ctx context.Context) {
	if c.broker == nil {
		return
	}
	events := c.broker.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleFederated(ev)
		}
	}
}

func (c *Controller) handleFederated(ev oauth.Event) {
	switch ev.Type {
	case oauth.EventSuccess:
		c.log.Info("federated sign-in succeeded", slog.String("token_type", ev.Credentials.TokenType))
		c.notifier.Notify(types.Notification{Kind: types.NotifySuccess, Message: MsgFederatedSignedIn})
	default:
		attrs := []any{slog.String("type", string(ev.Type))}
		if ev.Err != nil {
			attrs = append(attrs, slog.String("error", ev.Err.Error()))
		}
		c.log.Info("federated sign-in did not complete", attrs...)
	}
}

package tui

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aanand-mishra/signup/internal/signup"
	"github.com/aanand-mishra/signup/internal/types"
)

const (
	optCreate = "Create Account"
	optGoogle = "Sign in with Google"
	optQuit   = "Quit"
)

// Notifier queues controller notifications until the screen is between
// prompts. Federated outcomes arrive on the controller's listener goroutine
// while a prompt may own the terminal, so Notify never writes.
type Notifier struct {
	driver PromptDriver

	mu      sync.Mutex
	pending []types.Notification
}

func NewNotifier(driver PromptDriver) *Notifier {
	return &Notifier{driver: driver}
}

// Notify implements signup.Notifier.
func (n *Notifier) Notify(note types.Notification) {
	n.mu.Lock()
	n.pending = append(n.pending, note)
	n.mu.Unlock()
}

// Flush prints queued notifications in arrival order.
func (n *Notifier) Flush(ctx context.Context) error {
	n.mu.Lock()
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, note := range pending {
		prefix := "✔"
		if note.Kind == types.NotifyFailure {
			prefix = "✘"
		}
		if err := n.driver.Info(ctx, prefix+" "+note.Message); err != nil {
			return err
		}
	}
	return nil
}

// Screen is the sign-up screen: a menu, the five form fields and the two
// submit paths.
type Screen struct {
	ctrl      *signup.Controller
	driver    PromptDriver
	notes     *Notifier
	federated bool
}

// NewScreen returns a screen driving ctrl. notes must be the Notifier the
// controller was built with; the screen flushes it between prompts.
// federated enables the "Sign in with Google" option.
func NewScreen(ctrl *signup.Controller, driver PromptDriver, notes *Notifier, federated bool) *Screen {
	return &Screen{ctrl: ctrl, driver: driver, notes: notes, federated: federated}
}

// Run shows the menu until the user quits, interrupts, or ctx ends.
// Quitting and interrupting both return nil.
func (s *Screen) Run(ctx context.Context) error {
	err := s.loop(ctx)
	if flushErr := s.notes.Flush(context.Background()); err == nil {
		err = flushErr
	}
	if errors.Is(err, ErrAborted) {
		return nil
	}
	return err
}

func (s *Screen) loop(ctx context.Context) error {
	options := []string{optCreate}
	if s.federated {
		options = append(options, optGoogle)
	}
	options = append(options, optQuit)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.notes.Flush(ctx); err != nil {
			return err
		}

		idx, err := s.driver.Select(ctx, SelectConfig{Message: "Sign Up", Options: options})
		if err != nil {
			return err
		}
		if idx < 0 || idx >= len(options) {
			continue
		}

		switch options[idx] {
		case optCreate:
			if err := s.fill(ctx); err != nil {
				return err
			}
			if err := s.submit(ctx); err != nil {
				return err
			}
		case optGoogle:
			if err := s.ctrl.StartFederatedSignIn(ctx); err != nil {
				if err := s.driver.Info(ctx, "✘ "+err.Error()); err != nil {
					return err
				}
				continue
			}
			if err := s.driver.Info(ctx, "Continue in your browser. You will be notified here when sign-in completes."); err != nil {
				return err
			}
		case optQuit:
			return nil
		}
	}
}

// fill prompts every field, pre-filling text inputs from the controller's
// state and showing the last error for each field as help text.
func (s *Screen) fill(ctx context.Context) error {
	state := s.ctrl.State()
	fieldErrs := s.ctrl.Errors()

	name, err := s.driver.Input(ctx, InputConfig{Message: "Full Name", Default: state.Name, Help: fieldErrs[types.FieldName]})
	if err != nil {
		return err
	}
	s.ctrl.SetName(name)

	email, err := s.driver.Input(ctx, InputConfig{Message: "Email", Default: state.Email, Help: fieldErrs[types.FieldEmail]})
	if err != nil {
		return err
	}
	s.ctrl.SetEmail(email)

	password, err := s.driver.Password(ctx, InputConfig{Message: "Password", Help: fieldErrs[types.FieldPassword]})
	if err != nil {
		return err
	}
	s.ctrl.SetPassword(password)

	confirm, err := s.driver.Password(ctx, InputConfig{Message: "Confirm Password", Help: fieldErrs[types.FieldConfirm]})
	if err != nil {
		return err
	}
	s.ctrl.SetConfirm(confirm)

	accepted, err := s.driver.Confirm(ctx, ConfirmConfig{
		Message: "I accept the Terms & Conditions",
		Default: state.AcceptedTerms,
		Help:    fieldErrs[types.FieldTerms],
	})
	if err != nil {
		return err
	}
	s.ctrl.SetAcceptedTerms(accepted)
	return nil
}

// submit triggers the controller and prints field errors in screen order.
// Submission failures reach the user through the Notifier, not here.
func (s *Screen) submit(ctx context.Context) error {
	if s.ctrl.Submitting() {
		return s.driver.Info(ctx, "A sign-up is already in progress.")
	}
	if len(signup.Validate(s.ctrl.State())) == 0 {
		if err := s.driver.Info(ctx, "Creating account..."); err != nil {
			return err
		}
	}

	fieldErrs, _ := s.ctrl.Submit(ctx)
	if err := s.notes.Flush(ctx); err != nil {
		return err
	}
	for _, f := range types.Fields {
		msg, ok := fieldErrs[f]
		if !ok {
			continue
		}
		if err := s.driver.Info(ctx, fmt.Sprintf("  %s: %s", f, msg)); err != nil {
			return err
		}
	}
	return nil
}

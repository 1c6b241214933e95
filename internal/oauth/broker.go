// Package oauth delegates sign-in to a federated identity provider.
//
// A Broker runs the interactive authorization flow on its own and reports
// the outcome later as a one-shot Event on its Events channel. Callers start
// a flow with Authorize and subscribe to Events once at startup; there is no
// way to abort a flow once it has started.
package oauth

import (
	"context"
	"errors"
)

// EventType is the outcome of one authorization flow.
type EventType string

const (
	EventSuccess EventType = "success"
	EventCancel  EventType = "cancel"
	EventError   EventType = "error"
)

// Credentials are the tokens returned by the provider's token endpoint.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Event is delivered exactly once per started flow.
type Event struct {
	Type        EventType
	Credentials Credentials
	// Err explains a cancel or error event.
	Err error
}

// Broker performs the federated authorization handshake.
type Broker interface {
	// Authorize starts a flow for clientID, expecting the provider to
	// redirect to redirectURI. It returns once the flow is running; the
	// result arrives on Events.
	Authorize(ctx context.Context, clientID, redirectURI string) error
	// Events delivers one Event per flow. Subscribe once and keep reading:
	// an outcome that arrives while an earlier one is still unread is
	// dropped.
	Events() <-chan Event
}

var (
	ErrFlowInProgress  = errors.New("oauth: an authorization flow is already running")
	ErrInvalidRequest  = errors.New("oauth: client id and redirect uri are required")
	ErrAccessDenied    = errors.New("oauth: access denied by user")
	ErrStateMismatch   = errors.New("oauth: state mismatch")
	ErrMissingCode     = errors.New("oauth: authorization code missing from callback")
	ErrFlowTimedOut    = errors.New("oauth: no callback received before the flow timed out")
	ErrTokenExchange   = errors.New("oauth: token exchange failed")
	ErrInvalidProvider = errors.New("oauth: provider endpoints are not configured")
)

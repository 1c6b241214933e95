package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	defaultTokenSize   = 32
	defaultFlowTimeout = 5 * time.Minute
)

// Provider describes the identity provider's OAuth 2.0 endpoints.
type Provider struct {
	AuthURL      string
	TokenURL     string
	ClientSecret string
	Scopes       []string
}

// Google is the default provider.
var Google = Provider{
	AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
	Scopes:   []string{"openid", "email", "profile"},
}

// LoopbackBroker runs the authorization-code flow with PKCE for native
// apps: it listens on the redirect URI's host for the provider's callback,
// hands the authorization URL to an opener (the system browser by
// default) and exchanges the returned code for tokens.
type LoopbackBroker struct {
	provider    Provider
	httpClient  *http.Client
	open        func(ctx context.Context, authURL string) error
	listen      func(network, addr string) (net.Listener, error)
	flowTimeout time.Duration
	log         *slog.Logger

	events chan Event

	mu      sync.Mutex
	running bool
}

// Option configures a LoopbackBroker.
type Option func(*LoopbackBroker)

// WithOpener replaces the system-browser launcher.
func WithOpener(open func(ctx context.Context, authURL string) error) Option {
	return func(b *LoopbackBroker) { b.open = open }
}

// WithListenFunc replaces net.Listen for the callback listener.
func WithListenFunc(listen func(network, addr string) (net.Listener, error)) Option {
	return func(b *LoopbackBroker) { b.listen = listen }
}

// WithHTTPClient sets the client used for the token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(b *LoopbackBroker) { b.httpClient = c }
}

// WithFlowTimeout bounds how long a flow waits for the provider callback.
// A flow that times out is reported as a cancel event.
func WithFlowTimeout(d time.Duration) Option {
	return func(b *LoopbackBroker) { b.flowTimeout = d }
}

func WithLogger(log *slog.Logger) Option {
	return func(b *LoopbackBroker) { b.log = log }
}

// NewLoopbackBroker returns a broker for provider.
func NewLoopbackBroker(provider Provider, options ...Option) *LoopbackBroker {
	b := &LoopbackBroker{
		provider:    provider,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		open:        openBrowser,
		listen:      net.Listen,
		flowTimeout: defaultFlowTimeout,
		log:         slog.Default(),
		events:      make(chan Event, 1),
	}
	for _, opt := range options {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Events implements Broker.
func (b *LoopbackBroker) Events() <-chan Event {
	return b.events
}

// Authorize implements Broker. Only one flow may run at a time.
func (b *LoopbackBroker) Authorize(ctx context.Context, clientID, redirectURI string) error {
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(redirectURI) == "" {
		return ErrInvalidRequest
	}
	if strings.TrimSpace(b.provider.AuthURL) == "" || strings.TrimSpace(b.provider.TokenURL) == "" {
		return ErrInvalidProvider
	}
	redirect, err := url.Parse(redirectURI)
	if err != nil || redirect.Scheme != "http" || redirect.Host == "" {
		return fmt.Errorf("%w: redirect uri must be an http loopback address", ErrInvalidRequest)
	}

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrFlowInProgress
	}
	b.running = true
	b.mu.Unlock()

	f, err := b.newFlow(clientID, redirectURI)
	if err != nil {
		b.release()
		return err
	}

	ln, err := b.listen("tcp", redirect.Host)
	if err != nil {
		b.release()
		return fmt.Errorf("oauth.Authorize: listen on %s: %w", redirect.Host, err)
	}

	path := redirect.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path, f.handleCallback)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.log.Error("oauth callback listener stopped", slog.String("error", err.Error()))
		}
	}()

	if err := b.open(ctx, f.authURL); err != nil {
		_ = srv.Close()
		b.release()
		return fmt.Errorf("oauth.Authorize: open browser: %w", err)
	}

	b.log.Info("authorization flow started", slog.String("redirect_uri", redirectURI))
	go b.await(srv, f)
	return nil
}

// await waits for the flow to settle, shuts the listener down and
// publishes the single event.
func (b *LoopbackBroker) await(srv *http.Server, f *flow) {
	timer := time.NewTimer(b.flowTimeout)
	defer timer.Stop()

	var ev Event
	select {
	case ev = <-f.result:
	case <-timer.C:
		ev = Event{Type: EventCancel, Err: ErrFlowTimedOut}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}

	b.log.Info("authorization flow finished", slog.String("outcome", string(ev.Type)))
	b.release()

	// Events is buffered for one undelivered outcome. When nobody has read
	// the previous one the new outcome is dropped rather than pinning this
	// goroutine.
	select {
	case b.events <- ev:
	default:
		b.log.Warn("authorization outcome dropped, previous event unread",
			slog.String("outcome", string(ev.Type)))
	}
}

func (b *LoopbackBroker) release() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

// flow is the per-authorization state: the PKCE verifier, the anti-forgery
// state and the channel the callback reports on.
type flow struct {
	broker      *LoopbackBroker
	clientID    string
	redirectURI string
	state       string
	verifier    string
	authURL     string

	once   sync.Once
	result chan Event
}

func (b *LoopbackBroker) newFlow(clientID, redirectURI string) (*flow, error) {
	state, err := randomToken(defaultTokenSize)
	if err != nil {
		return nil, fmt.Errorf("oauth.Authorize: state: %w", err)
	}
	verifier, err := randomToken(defaultTokenSize)
	if err != nil {
		return nil, fmt.Errorf("oauth.Authorize: verifier: %w", err)
	}
	authURL, err := buildAuthURL(b.provider, clientID, redirectURI, state, pkceChallenge(verifier))
	if err != nil {
		return nil, fmt.Errorf("oauth.Authorize: auth url: %w", err)
	}
	return &flow{
		broker:      b,
		clientID:    clientID,
		redirectURI: redirectURI,
		state:       state,
		verifier:    verifier,
		authURL:     authURL,
		result:      make(chan Event, 1),
	}, nil
}

func (f *flow) handleCallback(w http.ResponseWriter, r *http.Request) {
	// Anything on the loopback port can hit this path. Requests that do not
	// carry this flow's state are turned away without ending the flow.
	if subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("state")), []byte(f.state)) != 1 {
		f.broker.log.Warn("oauth callback ignored", slog.String("reason", ErrStateMismatch.Error()))
		http.Error(w, ErrStateMismatch.Error(), http.StatusBadRequest)
		return
	}

	handled := false
	f.once.Do(func() {
		handled = true
		ev := f.settle(r)
		f.result <- ev

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		switch ev.Type {
		case EventSuccess:
			fmt.Fprintln(w, "Sign-in complete. You can close this window.")
		case EventCancel:
			fmt.Fprintln(w, "Sign-in cancelled. You can close this window.")
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, "Sign-in failed. Return to the app and try again.")
		}
	})
	if !handled {
		http.Error(w, "this sign-in request has already completed", http.StatusGone)
	}
}

func (f *flow) settle(r *http.Request) Event {
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		if providerErr == "access_denied" {
			return Event{Type: EventCancel, Err: ErrAccessDenied}
		}
		return Event{Type: EventError, Err: fmt.Errorf("oauth: provider returned %s: %s", providerErr, q.Get("error_description"))}
	}
	code := q.Get("code")
	if code == "" {
		return Event{Type: EventError, Err: ErrMissingCode}
	}

	creds, err := f.broker.exchangeCode(r.Context(), f.clientID, code, f.redirectURI, f.verifier)
	if err != nil {
		return Event{Type: EventError, Err: err}
	}
	return Event{Type: EventSuccess, Credentials: creds}
}

func buildAuthURL(p Provider, clientID, redirectURI, state, challenge string) (string, error) {
	parsed, err := url.Parse(p.AuthURL)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("response_type", "code")
	query.Set("client_id", clientID)
	query.Set("redirect_uri", redirectURI)
	if len(p.Scopes) > 0 {
		query.Set("scope", strings.Join(p.Scopes, " "))
	}
	query.Set("state", state)
	query.Set("code_challenge", challenge)
	query.Set("code_challenge_method", "S256")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (b *LoopbackBroker) exchangeCode(ctx context.Context, clientID, code, redirectURI, verifier string) (Credentials, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", clientID)
	form.Set("code_verifier", verifier)
	if strings.TrimSpace(b.provider.ClientSecret) != "" {
		form.Set("client_secret", b.provider.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.provider.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Credentials{}, fmt.Errorf("%w: status %d: %s", ErrTokenExchange, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var creds Credentials
	if err := json.Unmarshal(body, &creds); err != nil || creds.AccessToken == "" {
		return Credentials{}, fmt.Errorf("%w: response carried no access token", ErrTokenExchange)
	}
	return creds, nil
}

func randomToken(size int) (string, error) {
	if size <= 0 {
		size = defaultTokenSize
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// openBrowser launches the system browser. The browser outlives ctx.
func openBrowser(ctx context.Context, authURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", authURL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", authURL)
	default:
		cmd = exec.Command("xdg-open", authURL)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

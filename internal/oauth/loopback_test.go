package oauth

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenServer struct {
	*httptest.Server
	mu   sync.Mutex
	form url.Values
}

func newTokenServer(t *testing.T, status int, body string) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		ts.mu.Lock()
		ts.form = r.PostForm
		ts.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) Form() url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.form
}

// loopback returns a listener on a free port and the matching redirect URI.
func loopback(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln, "http://" + ln.Addr().String() + "/oauth2/callback"
}

// browser simulates the provider redirecting back to the app. respond
// builds the callback query from the authorization request.
func browser(t *testing.T, seen chan<- url.Values, respond func(auth url.Values) url.Values) func(context.Context, string) error {
	return func(ctx context.Context, authURL string) error {
		parsed, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		auth := parsed.Query()
		seen <- auth
		go func() {
			cb := auth.Get("redirect_uri") + "?" + respond(auth).Encode()
			resp, err := http.Get(cb)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func newTestBroker(t *testing.T, tokenURL string, ln net.Listener, opener func(context.Context, string) error) *LoopbackBroker {
	return NewLoopbackBroker(
		Provider{AuthURL: "https://idp.example/auth", TokenURL: tokenURL, Scopes: []string{"openid", "email"}},
		WithOpener(opener),
		WithListenFunc(func(network, addr string) (net.Listener, error) { return ln, nil }),
		WithFlowTimeout(5*time.Second),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func waitEvent(t *testing.T, b Broker) Event {
	t.Helper()
	select {
	case ev := <-b.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestAuthorizeSuccess(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"at","token_type":"Bearer","id_token":"idt","expires_in":3599}`)
	ln, redirect := loopback(t)
	seen := make(chan url.Values, 1)
	b := newTestBroker(t, ts.URL, ln, browser(t, seen, func(auth url.Values) url.Values {
		return url.Values{"code": {"the-code"}, "state": {auth.Get("state")}}
	}))

	require.NoError(t, b.Authorize(context.Background(), "client-1", redirect))

	ev := waitEvent(t, b)
	require.Equal(t, EventSuccess, ev.Type, "err: %v", ev.Err)
	assert.Equal(t, "at", ev.Credentials.AccessToken)
	assert.Equal(t, "idt", ev.Credentials.IDToken)
	assert.Equal(t, 3599, ev.Credentials.ExpiresIn)

	auth := <-seen
	assert.Equal(t, "code", auth.Get("response_type"))
	assert.Equal(t, "client-1", auth.Get("client_id"))
	assert.Equal(t, redirect, auth.Get("redirect_uri"))
	assert.Equal(t, "openid email", auth.Get("scope"))
	assert.Equal(t, "S256", auth.Get("code_challenge_method"))

	form := ts.Form()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, "client-1", form.Get("client_id"))
	assert.Equal(t, auth.Get("code_challenge"), pkceChallenge(form.Get("code_verifier")))
}

func TestAuthorizeAccessDeniedIsCancel(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{}`)
	ln, redirect := loopback(t)
	b := newTestBroker(t, ts.URL, ln, browser(t, make(chan url.Values, 1), func(auth url.Values) url.Values {
		return url.Values{"error": {"access_denied"}, "state": {auth.Get("state")}}
	}))

	require.NoError(t, b.Authorize(context.Background(), "client-1", redirect))

	ev := waitEvent(t, b)
	assert.Equal(t, EventCancel, ev.Type)
	assert.ErrorIs(t, ev.Err, ErrAccessDenied)
	assert.Nil(t, ts.Form(), "token endpoint must not be called")
}

func TestAuthorizeIgnoresCallbacksWithForeignState(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"at"}`)
	ln, redirect := loopback(t)
	forged := make(chan int, 1)
	opener := func(ctx context.Context, authURL string) error {
		parsed, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		auth := parsed.Query()
		go func() {
			resp, err := http.Get(redirect + "?" + url.Values{"code": {"c"}, "state": {"forged"}}.Encode())
			if err != nil {
				forged <- 0
				return
			}
			resp.Body.Close()
			forged <- resp.StatusCode

			resp, err = http.Get(redirect + "?" + url.Values{"code": {"real"}, "state": {auth.Get("state")}}.Encode())
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
	b := newTestBroker(t, ts.URL, ln, opener)

	require.NoError(t, b.Authorize(context.Background(), "client-1", redirect))

	ev := waitEvent(t, b)
	assert.Equal(t, http.StatusBadRequest, <-forged)
	require.Equal(t, EventSuccess, ev.Type, "err: %v", ev.Err)
	assert.Equal(t, "real", ts.Form().Get("code"))
}

func TestAuthorizeTokenExchangeFailure(t *testing.T) {
	ts := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	ln, redirect := loopback(t)
	b := newTestBroker(t, ts.URL, ln, browser(t, make(chan url.Values, 1), func(auth url.Values) url.Values {
		return url.Values{"code": {"c"}, "state": {auth.Get("state")}}
	}))

	require.NoError(t, b.Authorize(context.Background(), "client-1", redirect))

	ev := waitEvent(t, b)
	assert.Equal(t, EventError, ev.Type)
	assert.ErrorIs(t, ev.Err, ErrTokenExchange)
}

func TestAuthorizeTimesOutAsCancel(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{}`)
	ln, redirect := loopback(t)
	b := NewLoopbackBroker(
		Provider{AuthURL: "https://idp.example/auth", TokenURL: ts.URL},
		WithOpener(func(context.Context, string) error { return nil }),
		WithListenFunc(func(string, string) (net.Listener, error) { return ln, nil }),
		WithFlowTimeout(50*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	require.NoError(t, b.Authorize(context.Background(), "client-1", redirect))

	ev := waitEvent(t, b)
	assert.Equal(t, EventCancel, ev.Type)
	assert.ErrorIs(t, ev.Err, ErrFlowTimedOut)
}

func TestAuthorizeRejectsSecondFlow(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{}`)
	ln, redirect := loopback(t)
	b := NewLoopbackBroker(
		Provider{AuthURL: "https://idp.example/auth", TokenURL: ts.URL},
		WithOpener(func(context.Context, string) error { return nil }),
		WithListenFunc(func(string, string) (net.Listener, error) { return ln, nil }),
		WithFlowTimeout(100*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	require.NoError(t, b.Authorize(context.Background(), "client-1", redirect))
	assert.ErrorIs(t, b.Authorize(context.Background(), "client-1", redirect), ErrFlowInProgress)

	waitEvent(t, b)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	b := NewLoopbackBroker(Google)

	assert.ErrorIs(t, b.Authorize(context.Background(), "", "http://127.0.0.1:1/cb"), ErrInvalidRequest)
	assert.ErrorIs(t, b.Authorize(context.Background(), "id", ""), ErrInvalidRequest)
	assert.ErrorIs(t, b.Authorize(context.Background(), "id", "https://auth.example/app"), ErrInvalidRequest)

	empty := NewLoopbackBroker(Provider{})
	assert.ErrorIs(t, empty.Authorize(context.Background(), "id", "http://127.0.0.1:1/cb"), ErrInvalidProvider)
}

func TestPKCEChallengeIsStable(t *testing.T) {
	// RFC 7636 appendix B.
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		pkceChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}

func TestUnreadEventsDoNotBlockLaterFlows(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{}`)
	b := NewLoopbackBroker(
		Provider{AuthURL: "https://idp.example/auth", TokenURL: ts.URL},
		WithOpener(func(context.Context, string) error { return nil }),
		WithListenFunc(func(string, string) (net.Listener, error) { return net.Listen("tcp", "127.0.0.1:0") }),
		WithFlowTimeout(20*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	redirect := "http://127.0.0.1:0/oauth2/callback"

	// Three flows time out back to back while nobody reads Events.
	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool {
			return b.Authorize(context.Background(), "client-1", redirect) == nil
		}, 5*time.Second, 10*time.Millisecond, "flow %d could not start", i)
	}
	require.Eventually(t, func() bool {
		return b.Authorize(context.Background(), "client-1", redirect) == nil
	}, 5*time.Second, 10*time.Millisecond)

	ev := waitEvent(t, b)
	assert.Equal(t, EventCancel, ev.Type)
	assert.ErrorIs(t, ev.Err, ErrFlowTimedOut)
}

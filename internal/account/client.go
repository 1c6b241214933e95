package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aanand-mishra/signup/internal/types"
)

// SignUpPath is the identity-toolkit route for email/password sign-up.
const SignUpPath = "/v1/accounts:signUp"

// Error codes shared by the hosted identity backend and the local accounts-api.
const (
	CodeEmailExists      = "EMAIL_EXISTS"
	CodeInvalidEmail     = "INVALID_EMAIL"
	CodeMissingEmail     = "MISSING_EMAIL"
	CodeMissingPassword  = "MISSING_PASSWORD"
	CodeWeakPassword     = "WEAK_PASSWORD"
	CodeOperationBlocked = "OPERATION_NOT_ALLOWED"
	CodeTooManyAttempts  = "TOO_MANY_ATTEMPTS_TRY_LATER"
	CodeInvalidAPIKey    = "API_KEY_INVALID"
	CodeNetwork          = "NETWORK_REQUEST_FAILED"
)

var friendlyMessages = map[string]string{
	CodeEmailExists:      "Email already in use",
	CodeInvalidEmail:     "The email address is badly formatted.",
	CodeMissingEmail:     "Email is required.",
	CodeMissingPassword:  "Password is required.",
	CodeWeakPassword:     "Password should be at least 6 characters.",
	CodeOperationBlocked: "Password sign-up is disabled for this project.",
	CodeTooManyAttempts:  "Too many attempts. Try again later.",
	CodeInvalidAPIKey:    "API key not valid. Please pass a valid API key.",
}

// Client talks to an identity-toolkit compatible accounts:signUp endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient returns a Client for the backend at endpoint (scheme and host,
// no trailing path). timeout bounds each request; zero means no limit.
func NewClient(endpoint, apiKey string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type signUpRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signUpResponse struct {
	Kind         string `json:"kind"`
	IDToken      string `json:"idToken"`
	Email        string `json:"email"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateAccount implements Service.
func (c *Client) CreateAccount(ctx context.Context, email, password string) (types.Account, error) {
	body, err := json.Marshal(signUpRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	})
	if err != nil {
		return types.Account{}, fmt.Errorf("account.CreateAccount: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.signUpURL(), bytes.NewReader(body))
	if err != nil {
		return types.Account{}, fmt.Errorf("account.CreateAccount: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("sign-up request failed", slog.String("error", err.Error()))
		return types.Account{}, &Error{
			Code:    CodeNetwork,
			Message: "A network error occurred. Check your connection and try again.",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.Account{}, &Error{Code: CodeNetwork, Message: "Could not read the server response.", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return types.Account{}, decodeError(resp.StatusCode, raw)
	}

	var out signUpResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return types.Account{}, &Error{Code: "INVALID_RESPONSE", Message: "The server returned an unexpected response.", Err: err}
	}

	acct := types.Account{
		LocalID:      out.LocalID,
		Email:        out.Email,
		IDToken:      out.IDToken,
		RefreshToken: out.RefreshToken,
	}
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil {
		acct.ExpiresIn = time.Duration(secs) * time.Second
	}

	c.log.Info("account created", slog.String("local_id", acct.LocalID))
	return acct, nil
}

func (c *Client) signUpURL() string {
	u := c.endpoint + SignUpPath
	if c.apiKey != "" {
		u += "?key=" + url.QueryEscape(c.apiKey)
	}
	return u
}

// decodeError turns an error envelope into an *Error. Backends append
// detail to the code ("WEAK_PASSWORD : Password should be at least 6
// characters"), so only the part before " : " is used for the lookup.
func decodeError(status int, raw []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Error.Message == "" {
		return &Error{
			Code:    strconv.Itoa(status),
			Message: fmt.Sprintf("Sign-up failed (HTTP %d).", status),
			Err:     errors.New(strings.TrimSpace(string(raw))),
		}
	}

	code, detail, _ := strings.Cut(env.Error.Message, " : ")
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "API key not valid") {
		code = CodeInvalidAPIKey
	}

	msg, ok := friendlyMessages[code]
	switch {
	case ok:
	case detail != "":
		msg = detail
	default:
		msg = env.Error.Message
	}
	return &Error{Code: code, Message: msg}
}

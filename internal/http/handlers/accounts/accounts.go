// Package accounts contains the HTTP handlers of the local accounts-api,
// an identity-toolkit compatible stand-in for the hosted Account Service.
//
// HANDLER PATTERN: CLOSURE FACTORIES
// ────────────────────────────────────────────────────────────
// The router wants func(http.ResponseWriter, *http.Request). Storage, the
// token issuer and the API key do not fit in that signature, so each
// handler is built by a factory that takes them once at startup and
// returns the function the router calls on every request:
//
//	router.HandleFunc("POST /v1/accounts:signUp", accounts.SignUp(storage, issuer, apiKey))
//	//                                              ^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^
//	//                                  called ONCE; the returned closure
//	//                                  runs for EVERY request.
//
// Every error goes out in the identity-toolkit envelope written by
// utils/response, so one client understands this backend and the hosted one.
package accounts

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/aanand-mishra/signup/internal/storage"
	"github.com/aanand-mishra/signup/internal/token"
	"github.com/aanand-mishra/signup/internal/utils/response"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// LookupPath is the identity-toolkit route that resolves an id token to
// its account.
const LookupPath = "/v1/accounts:lookup"

// maxBodyBytes caps request bodies; a sign-up is two short strings.
const maxBodyBytes = 1 << 16

// SignUpRequest is the accounts:signUp request body.
type SignUpRequest struct {
	Email             string `json:"email"    validate:"required,email"`
	Password          string `json:"password" validate:"required,min=6"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// SignUpResponse is the accounts:signUp success body.
type SignUpResponse struct {
	Kind         string `json:"kind"`
	IDToken      string `json:"idToken,omitempty"`
	Email        string `json:"email"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    string `json:"expiresIn,omitempty"`
	LocalID      string `json:"localId"`
}

// LookupRequest is the accounts:lookup request body.
type LookupRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

// LookupUser is one entry of LookupResponse.Users.
type LookupUser struct {
	LocalID   string `json:"localId"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt"`
}

// LookupResponse is the accounts:lookup success body.
type LookupResponse struct {
	Kind  string       `json:"kind"`
	Users []LookupUser `json:"users"`
}

const (
	signUpKind = "identitytoolkit#SignupNewUserResponse"
	lookupKind = "identitytoolkit#GetAccountInfoResponse"
)

// validate is shared by every handler. Building a validator.Validate is
// not free (it caches struct metadata), so it is created once.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON name ("email"), not the Go name
	// ("Email"), because response.ValidationError switches on it.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ─────────────────────────────────────────────────────────────────────────────
// SignUp handles POST /v1/accounts:signUp
// Creates an account from an email and password.
//
// Request body (JSON):
//
//	{ "email": "a@b.com", "password": "secret1", "returnSecureToken": true }
//
// Success response (200 OK):
//
//	{ "kind": "...", "idToken": "...", "email": "a@b.com",
//	  "refreshToken": "...", "expiresIn": "3600", "localId": "..." }
//
// Error responses:
//
//	400 Bad Request: API key not valid, empty or malformed body,
//	                 MISSING_EMAIL, INVALID_EMAIL, MISSING_PASSWORD,
//	                 WEAK_PASSWORD, INVALID_PASSWORD, EMAIL_EXISTS
//	500 Internal:    hashing, storage or token failure
//
// ─────────────────────────────────────────────────────────────────────────────
func SignUp(store storage.Storage, tokens *token.Issuer, apiKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Info("sign-up request received")

		// ── Step 1: Check the API key ─────────────────────────────────
		// The hosted backend rejects a bad key before reading the body
		// and so do we. An empty apiKey turns the check off for local use.
		if !keyAccepted(r, apiKey) {
			response.WriteError(w, http.StatusBadRequest,
				"API key not valid. Please pass a valid API key.")
			return
		}

		// ── Step 2: Decode the JSON body ──────────────────────────────
		var req SignUpRequest
		if !decode(w, r, &req) {
			return
		}

		// ── Step 3: Validate ──────────────────────────────────────────
		// Email rules come first in the struct, so a bad email is
		// reported before a weak password, as the hosted backend does.
		if !valid(w, req) {
			return
		}

		// ── Step 4: Reject known emails before paying for bcrypt ──────
		// The unique index in storage still has the final say when two
		// sign-ups for the same email race past this check.
		if _, err := store.GetAccountByEmail(req.Email); err == nil {
			slog.Info("sign-up rejected: email exists")
			response.WriteError(w, http.StatusBadRequest, "EMAIL_EXISTS")
			return
		} else if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("error looking up account", slog.String("error", err.Error()))
			response.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
			return
		}

		// ── Step 5: Hash the password ─────────────────────────────────
		// bcrypt salts every hash itself. It refuses passwords longer
		// than 72 bytes instead of silently truncating them.
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			response.WriteError(w, http.StatusBadRequest,
				"INVALID_PASSWORD : Password must be at most 72 bytes")
			return
		}
		if err != nil {
			slog.Error("error hashing password", slog.String("error", err.Error()))
			response.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
			return
		}

		// ── Step 6: Persist ───────────────────────────────────────────
		// The handler talks to the Storage interface, never to SQLite.
		acct, err := store.CreateAccount(uuid.NewString(), req.Email, string(hash))
		if errors.Is(err, storage.ErrEmailExists) {
			slog.Info("sign-up rejected: email exists")
			response.WriteError(w, http.StatusBadRequest, "EMAIL_EXISTS")
			return
		}
		if err != nil {
			slog.Error("error creating account", slog.String("error", err.Error()))
			response.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
			return
		}

		// ── Step 7: Build the response, with tokens when asked for ────
		out := SignUpResponse{
			Kind:    signUpKind,
			Email:   acct.Email,
			LocalID: acct.LocalID,
		}
		if req.ReturnSecureToken {
			idToken, err := tokens.IDToken(acct.LocalID, acct.Email)
			if err != nil {
				slog.Error("error issuing id token", slog.String("error", err.Error()))
				response.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
				return
			}
			out.IDToken = idToken
			out.RefreshToken = tokens.RefreshToken()
			// expiresIn is a string of seconds on the wire.
			out.ExpiresIn = strconv.Itoa(int(tokens.TTL().Seconds()))
		}

		slog.Info("account created", slog.String("local_id", acct.LocalID))
		response.WriteJSON(w, http.StatusOK, out)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Lookup handles POST /v1/accounts:lookup
// Resolves an id token issued by SignUp to the stored account.
//
// Request body (JSON):
//
//	{ "idToken": "eyJ..." }
//
// Success response (200 OK):
//
//	{ "kind": "...", "users": [ { "localId": "...", "email": "a@b.com", "createdAt": "1718000000000" } ] }
//
// Error responses:
//
//	400 Bad Request: API key not valid, empty or malformed body,
//	                 INVALID_ID_TOKEN, USER_NOT_FOUND
//	500 Internal:    storage failure
//
// ─────────────────────────────────────────────────────────────────────────────
func Lookup(store storage.Storage, tokens *token.Issuer, apiKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Info("lookup request received")

		if !keyAccepted(r, apiKey) {
			response.WriteError(w, http.StatusBadRequest,
				"API key not valid. Please pass a valid API key.")
			return
		}

		var req LookupRequest
		if !decode(w, r, &req) {
			return
		}
		if !valid(w, req) {
			return
		}

		// ── Verify the token: signature, issuer and expiry ────────────
		claims, err := tokens.Parse(req.IDToken)
		if err != nil {
			slog.Info("lookup rejected: bad id token", slog.String("error", err.Error()))
			response.WriteError(w, http.StatusBadRequest, "INVALID_ID_TOKEN")
			return
		}

		// ── Load the account the token was issued for ─────────────────
		// The subject must still match: a deleted and re-created email
		// gets a new localId and old tokens must not resolve to it.
		acct, err := store.GetAccountByEmail(claims.Email)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && acct.LocalID != claims.Subject) {
			response.WriteError(w, http.StatusBadRequest, "USER_NOT_FOUND")
			return
		}
		if err != nil {
			slog.Error("error looking up account", slog.String("error", err.Error()))
			response.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR")
			return
		}

		response.WriteJSON(w, http.StatusOK, LookupResponse{
			Kind: lookupKind,
			Users: []LookupUser{{
				LocalID: acct.LocalID,
				Email:   acct.Email,
				// Milliseconds since the epoch, as a string, like the
				// hosted backend.
				CreatedAt: strconv.FormatInt(acct.CreatedAt*1000, 10),
			}},
		})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Health handles GET /healthz and reports whether storage answers.
//
//	200 OK:                  { "status": "ok", "accounts": 3 }
//	503 Service Unavailable: { "status": "degraded" }
//
// ─────────────────────────────────────────────────────────────────────────────
func Health(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := store.CountAccounts()
		if err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			response.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		response.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "accounts": n})
	}
}

// keyAccepted reports whether the ?key= query parameter matches apiKey.
func keyAccepted(r *http.Request, apiKey string) bool {
	return apiKey == "" || r.URL.Query().Get("key") == apiKey
}

// decode reads a JSON body into dst. On failure it has already written the
// 400 response and returns false.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		// io.EOF means the body was completely empty.
		response.WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT : request body is empty")
		return false
	}
	if err != nil {
		// Malformed JSON, wrong types, and so on.
		response.WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT : "+err.Error())
		return false
	}
	return true
}

// valid runs the validate tags on v. On failure it has already written the
// 400 response and returns false.
func valid(w http.ResponseWriter, v any) bool {
	err := validate.Struct(v)
	if err == nil {
		return true
	}
	var validateErrs validator.ValidationErrors
	if errors.As(err, &validateErrs) {
		response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(validateErrs))
		return false
	}
	response.WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT")
	return false
}

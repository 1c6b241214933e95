// Package response provides helpers for writing consistent JSON HTTP
// responses from the accounts-api.
//
// Every handler answers in JSON. Rather than repeating the same three
// lines (set header, set status, encode) in each one, they live here.
//
// Error responses use the identity-toolkit envelope so the same client
// code understands both the hosted backend and this one:
//
//	{ "error": { "code": 400, "message": "EMAIL_EXISTS" } }
package response

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ─────────────────────────────────────────────────────────────────────────────
// Response is the error envelope.
//
// Success responses can be any JSON shape (a sign-up result, a health
// report). Errors always look like the example in the package comment.
// ─────────────────────────────────────────────────────────────────────────────
type Response struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the HTTP status and a machine-readable message. The
// message starts with an upper-case code and may append " : detail",
// which is how clients tell EMAIL_EXISTS from WEAK_PASSWORD.
type ErrorBody struct {
	Code    int    `json:"code"`    // mirrors the HTTP status
	Message string `json:"message"` // CODE or "CODE : detail"
}

// ─────────────────────────────────────────────────────────────────────────────
// WriteJSON writes a JSON-encoded response with the given HTTP status code.
//
// Parameters:
//
//	w      : the http.ResponseWriter handed to every handler
//	status : HTTP status code (e.g. http.StatusOK = 200)
//	data   : any Go value; it is JSON-encoded into the body
//
// IMPORTANT ORDER: Header() → WriteHeader() → body writes.
// Once WriteHeader is called (or the first Write), headers are locked.
// ─────────────────────────────────────────────────────────────────────────────
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	// Tell the client the body is JSON.
	w.Header().Set("Content-Type", "application/json")

	// The status line must go out before any body bytes.
	w.WriteHeader(status)

	// Encode streams straight into w and appends a newline.
	return json.NewEncoder(w).Encode(data)
}

// Error builds an envelope for status with the given message.
func Error(status int, message string) Response {
	return Response{Error: ErrorBody{Code: status, Message: message}}
}

// WriteError writes an error envelope. Shorthand for
// WriteJSON(w, status, Error(status, message)).
func WriteError(w http.ResponseWriter, status int, message string) error {
	return WriteJSON(w, status, Error(status, message))
}

// ─────────────────────────────────────────────────────────────────────────────
// ValidationError converts the first failing field into an identity-toolkit
// style message.
//
// validator.ValidationErrors is a slice with one entry per failing field,
// in struct order. The hosted backend reports a single problem per
// request, and email problems win over password problems, so only the
// first entry is used.
//
// Example output:
//
//	{ "error": { "code": 400, "message": "WEAK_PASSWORD : Password should be at least 6 characters" } }
//
// ─────────────────────────────────────────────────────────────────────────────
func ValidationError(errs validator.ValidationErrors) Response {
	// Nothing to report; still answer with a well-formed envelope.
	if len(errs) == 0 {
		return Error(http.StatusBadRequest, "INVALID_ARGUMENT")
	}

	e := errs[0]
	var msg string

	// e.Field() is the JSON name because the handlers register a tag-name
	// func. e.ActualTag() is the rule that failed: "required", "email",
	// "min" and so on.
	switch e.Field() {
	case "email":
		if e.ActualTag() == "required" {
			msg = "MISSING_EMAIL"
		} else {
			msg = "INVALID_EMAIL"
		}
	case "password":
		if e.ActualTag() == "required" {
			msg = "MISSING_PASSWORD"
		} else {
			msg = "WEAK_PASSWORD : Password should be at least 6 characters"
		}
	default:
		// Any other field: name it so the caller knows what to fix.
		msg = "INVALID_ARGUMENT : " + e.Field()
	}
	return Error(http.StatusBadRequest, msg)
}

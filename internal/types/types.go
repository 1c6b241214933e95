// Package types holds all shared data structures used across the
// application. Keeping them in one place prevents import cycles:
// the form controller, the account client, the storage layer and the
// terminal screen can all import types without depending on each other.
package types

import "time"

// Field names a single input on the sign-up form. It doubles as the key
// of an ErrorMap.
type Field string

const (
	FieldName     Field = "name"
	FieldEmail    Field = "email"
	FieldPassword Field = "password"
	FieldConfirm  Field = "confirm"
	FieldTerms    Field = "terms"
)

// Fields lists every form field in the order the screen renders them.
var Fields = []Field{FieldName, FieldEmail, FieldPassword, FieldConfirm, FieldTerms}

// FormState is the set of user-entered values on the sign-up screen.
//
// Struct tags serve two purposes:
//
//  1. form:"..."     is the Field name reported in an ErrorMap.
//  2. validate:"..." lists rules checked by the go-playground/validator
//     package. Each field stops at its first failing rule, so
//     "required,minunits=6" reports a missing password before a short one.
type FormState struct {
	Name          string `json:"name"          form:"name"     validate:"notblank"`
	Email         string `json:"email"         form:"email"    validate:"required,emailshape"`
	Password      string `json:"password"      form:"password" validate:"required,minunits=6"`
	Confirm       string `json:"confirm"       form:"confirm"  validate:"required,eqfield=Password"`
	AcceptedTerms bool   `json:"acceptedTerms" form:"terms"    validate:"required"`
}

// ErrorMap maps a field to its human-readable validation message.
// A field without a violation is absent from the map.
type ErrorMap map[Field]string

// Phase is the controller's submission state. There are only two:
// the form is either editable or waiting on the Account Service.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
)

func (p Phase) String() string {
	switch p {
	case PhaseSubmitting:
		return "submitting"
	default:
		return "idle"
	}
}

// Account is the handle returned by the Account Service after a
// successful sign-up.
type Account struct {
	LocalID      string        `json:"localId"`
	Email        string        `json:"email"`
	IDToken      string        `json:"idToken"`
	RefreshToken string        `json:"refreshToken"`
	ExpiresIn    time.Duration `json:"-"`
}

// NotificationKind separates success toasts from failure alerts.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyFailure NotificationKind = "failure"
)

// Notification is a whole-screen message for the presentation layer,
// distinct from the per-field messages in an ErrorMap.
type Notification struct {
	Kind    NotificationKind
	Message string
}

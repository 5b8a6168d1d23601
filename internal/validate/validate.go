// Package validate sanitizes untrusted client input before it reaches the
// conversation pipeline or contact capture.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind selects the sanitization and validation rules for a field.
type Kind string

const (
	KindText  Kind = "text"
	KindEmail Kind = "email"
	KindPhone Kind = "phone"
	KindURL   Kind = "url"
	KindName  Kind = "name"
)

// Error reports a validation failure for a single field. Validation failures
// are client errors and must never reach the upstream provider.
type Error struct {
	Kind  Kind
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s field %q: %s", e.Kind, e.Field, e.Msg)
	}
	return fmt.Sprintf("invalid %s: %s", e.Kind, e.Msg)
}

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	markupTags   = regexp.MustCompile(`<[^>]*>`)
	namePattern  = regexp.MustCompile(`^[a-zA-Z\s'\-\.]+$`)
	phoneKeep    = regexp.MustCompile(`[^0-9+\-() ]`)
)

const minPhoneDigits = 7

// Validator sanitizes raw field values by kind.
type Validator struct {
	v *validator.Validate
}

// New creates a Validator.
func New() *Validator {
	return &Validator{v: validator.New()}
}

// Sanitize cleans raw and validates it against the rules for kind. maxLen caps
// the cleaned length in bytes (0 means no cap). Empty values fail for every
// kind except url, which is optional.
func (vd *Validator) Sanitize(raw string, kind Kind, maxLen int) (string, error) {
	s := strings.TrimSpace(raw)
	s = controlChars.ReplaceAllString(s, "")
	s = markupTags.ReplaceAllString(s, "")

	if s == "" {
		if kind == KindURL {
			return "", nil
		}
		return "", &Error{Kind: kind, Msg: "value is empty"}
	}

	if maxLen > 0 && len(s) > maxLen {
		return "", &Error{Kind: kind, Msg: fmt.Sprintf("exceeds %d bytes", maxLen)}
	}

	switch kind {
	case KindText:
		return s, nil

	case KindEmail:
		if err := vd.v.Var(s, "email"); err != nil {
			return "", &Error{Kind: kind, Msg: "not a valid email address"}
		}
		return s, nil

	case KindPhone:
		s = phoneKeep.ReplaceAllString(s, "")
		if len(s) < minPhoneDigits {
			return "", &Error{Kind: kind, Msg: "too short"}
		}
		return s, nil

	case KindURL:
		if err := vd.v.Var(s, "url"); err != nil {
			return "", &Error{Kind: kind, Msg: "not an absolute URL"}
		}
		return s, nil

	case KindName:
		if !namePattern.MatchString(s) {
			return "", &Error{Kind: kind, Msg: "contains disallowed characters"}
		}
		return s, nil

	default:
		return "", &Error{Kind: kind, Msg: "unknown field kind"}
	}
}

// SanitizeField is Sanitize with a field name attached to any failure, for
// multi-field forms.
func (vd *Validator) SanitizeField(raw, field string, kind Kind, maxLen int) (string, error) {
	s, err := vd.Sanitize(raw, kind, maxLen)
	if err != nil {
		var verr *Error
		if errors.As(err, &verr) {
			verr.Field = field
		}
		return "", err
	}
	return s, nil
}

package reservation

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrInvalidInput marks a submission that failed validation. The wrapped message is safe to show to visitors.
	ErrInvalidInput = errors.New("reservation: invalid input")
	// ErrUnavailable marks a storage or mail queue failure.
	ErrUnavailable = errors.New("reservation: unavailable")
)

const (
	notProvided = "Not provided"
	noComments  = "No comments"

	maxFieldLength    = 256
	maxCommentsLength = 4000
	// RFC 5321 path limit.
	maxEmailLength = 254
	maxPhoneLength = 40
)

// Request is the JSON body posted by the landing page reservation form.
type Request struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Company    string `json:"company"`
	Website    string `json:"website"`
	Comments   string `json:"comments"`
	SMSConsent bool   `json:"smsConsent"`
}

// Reservation is a validated lead for a spot in the next mail campaign.
type Reservation struct {
	ID         string    `firestore:"id" json:"id"`
	FirstName  string    `firestore:"firstName" json:"firstName"`
	LastName   string    `firestore:"lastName" json:"lastName"`
	Phone      string    `firestore:"phone" json:"phone"`
	Email      string    `firestore:"email" json:"email"`
	Company    string    `firestore:"company,omitempty" json:"company,omitempty"`
	Website    string    `firestore:"website,omitempty" json:"website,omitempty"`
	Comments   string    `firestore:"comments,omitempty" json:"comments,omitempty"`
	SMSConsent bool      `firestore:"smsConsent" json:"smsConsent"`
	Language   string    `firestore:"language,omitempty" json:"language,omitempty"`
	SessionID  string    `firestore:"sessionId,omitempty" json:"sessionId,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt" json:"createdAt"`
}

// FullName joins the first and last name, skipping blanks.
func (r Reservation) FullName() string {
	return strings.TrimSpace(strings.Join([]string{r.FirstName, r.LastName}, " "))
}

// Normalize trims every field and validates the required contact details.
// Contact fields are never shortened: an over-long email or phone is rejected.
// Free text is clipped on a character boundary.
func (req Request) Normalize() (Request, error) {
	out := Request{
		FirstName:  clip(req.FirstName, maxFieldLength),
		LastName:   clip(req.LastName, maxFieldLength),
		Phone:      strings.TrimSpace(req.Phone),
		Email:      strings.TrimSpace(req.Email),
		Company:    clip(req.Company, maxFieldLength),
		Website:    clip(req.Website, maxFieldLength),
		Comments:   clip(req.Comments, maxCommentsLength),
		SMSConsent: req.SMSConsent,
	}
	if out.Email == "" || out.Phone == "" {
		return Request{}, fmt.Errorf("%w: Email and phone are required fields", ErrInvalidInput)
	}
	if len(out.Phone) > maxPhoneLength {
		return Request{}, fmt.Errorf("%w: Invalid phone number", ErrInvalidInput)
	}
	if len(out.Email) > maxEmailLength {
		return Request{}, fmt.Errorf("%w: Invalid email address", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(out.Email)
	if err != nil || addr.Name != "" || addr.Address != out.Email {
		return Request{}, fmt.Errorf("%w: Invalid email address", ErrInvalidInput)
	}
	return out, nil
}

// VisitorMessage extracts the visitor-facing text from a validation error.
func VisitorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	prefix := ErrInvalidInput.Error() + ": "
	if strings.HasPrefix(msg, prefix) {
		return strings.TrimPrefix(msg, prefix)
	}
	return msg
}

// clip trims value and caps it at limit bytes without splitting a multi-byte character.
func clip(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return strings.TrimSpace(value[:cut])
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

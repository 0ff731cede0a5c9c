package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Income      FlowType = "income"
	Expense     FlowType = "expense"
	Unaccounted FlowType = "unaccounted"
)

const (
	DimensionCategory      Dimension = "category"
	DimensionPaymentMethod Dimension = "paymentMethod"
	DimensionAttribution   Dimension = "attribution"
)

const (
	AttachmentUploaded AttachmentKind = iota + 1
	AttachmentLocal
)

type (
	// FlowType is the direction of money for a record. It also scopes categories.
	FlowType string

	// Dimension is one of the taxonomy axes a record is classified along.
	Dimension string

	AttachmentKind int

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Record is a bookkeeping transaction as known by the server.
	// ID is zero until the record has been persisted remotely.
	Record struct {
		ID            int64
		BookID        int64
		Flow          FlowType
		Amount        Money
		Category      string
		PaymentMethod string
		Attribution   string
		Note          string
		Date          Date
		Attachments   []string // server attachment names, display order
	}

	// AttachmentRef points at a receipt image that is either already stored
	// server-side (Uploaded, by Name) or only present on the device (Local).
	AttachmentRef struct {
		Kind    AttachmentKind
		Name    string // set for AttachmentUploaded
		LocalID string // set for AttachmentLocal
		URI     string // set for AttachmentLocal
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidFlow      = errors.New("invalid flow type")
	ErrEmptyCategory    = errors.New("empty category")
	ErrInvalidBook      = errors.New("invalid book id")
	ErrNoteTooLong      = errors.New("note too long (max 500 characters)")
	ErrInvalidDimension = errors.New("invalid dimension")
)

// FlowTypes returns every flow type in display order.
func FlowTypes() []FlowType {
	return []FlowType{Expense, Income, Unaccounted}
}

func (f FlowType) Valid() bool {
	switch f {
	case Income, Expense, Unaccounted:
		return true
	default:
		return false
	}
}

func ParseFlowType(s string) (FlowType, error) {
	f := FlowType(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidFlow, s)
	}
	return f, nil
}

// Dimensions returns every taxonomy dimension.
func Dimensions() []Dimension {
	return []Dimension{DimensionCategory, DimensionPaymentMethod, DimensionAttribution}
}

func (d Dimension) Valid() bool {
	switch d {
	case DimensionCategory, DimensionPaymentMethod, DimensionAttribution:
		return true
	default:
		return false
	}
}

// Scoped reports whether values of this dimension depend on the flow type.
func (d Dimension) Scoped() bool {
	return d == DimensionCategory
}

func ParseDimension(s string) (Dimension, error) {
	for _, d := range Dimensions() {
		if strings.EqualFold(string(d), strings.TrimSpace(s)) {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDimension, s)
}

// Uploaded returns a reference to an attachment stored server-side.
func Uploaded(name string) AttachmentRef {
	return AttachmentRef{Kind: AttachmentUploaded, Name: name}
}

// Local returns a reference to a picked image that has not been uploaded yet.
func Local(localID, uri string) AttachmentRef {
	return AttachmentRef{Kind: AttachmentLocal, LocalID: localID, URI: uri}
}

func (a AttachmentRef) IsLocal() bool    { return a.Kind == AttachmentLocal }
func (a AttachmentRef) IsUploaded() bool { return a.Kind == AttachmentUploaded }

// Key identifies the reference within a draft regardless of its kind.
func (a AttachmentRef) Key() string {
	if a.IsLocal() {
		return "local:" + a.LocalID
	}
	return "uploaded:" + a.Name
}

func (k AttachmentKind) String() string {
	switch k {
	case AttachmentUploaded:
		return "uploaded"
	case AttachmentLocal:
		return "local"
	default:
		return "unknown"
	}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO date (2006-01-02).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// String formats the date as 2006-01-02, or "" when zero.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(time.DateOnly)
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (r Record) Persisted() bool {
	return r.ID != 0
}

// Validate checks the fields the server requires before a record can be saved.
func (r Record) Validate() error {
	if r.BookID <= 0 {
		return ErrInvalidBook
	}
	if !r.Flow.Valid() {
		return ErrInvalidFlow
	}
	if err := r.Date.Validate(); err != nil {
		return err
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Category) == "" {
		return ErrEmptyCategory
	}
	if len(r.Note) > 500 {
		return ErrNoteTooLong
	}
	return nil
}

// Value returns the record's value along the given dimension.
func (r Record) Value(d Dimension) string {
	switch d {
	case DimensionCategory:
		return r.Category
	case DimensionPaymentMethod:
		return r.PaymentMethod
	case DimensionAttribution:
		return r.Attribution
	default:
		return ""
	}
}

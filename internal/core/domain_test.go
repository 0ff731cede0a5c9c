package core

import (
	"errors"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-09")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "2025-03-09" {
		t.Fatalf("round trip mismatch: %s", d)
	}
	if _, err := ParseDate("09/03/2025"); err == nil {
		t.Fatal("expected error for non-ISO date")
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
}

func TestRecordValidate(t *testing.T) {
	good := Record{
		BookID:   7,
		Flow:     Expense,
		Date:     NewDate(2025, 1, 1),
		Amount:   Money{Cents: 100},
		Category: "Food",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name string
		mut  func(r *Record)
		want error
	}{
		{"no book", func(r *Record) { r.BookID = 0 }, ErrInvalidBook},
		{"bad flow", func(r *Record) { r.Flow = "transfer" }, ErrInvalidFlow},
		{"zero amount", func(r *Record) { r.Amount = Money{} }, ErrInvalidAmount},
		{"blank category", func(r *Record) { r.Category = "  " }, ErrEmptyCategory},
		{"long note", func(r *Record) { r.Note = string(make([]byte, 501)) }, ErrNoteTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := good
			tc.mut(&r)
			if err := r.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAttachmentRefKinds(t *testing.T) {
	up := Uploaded("r1.jpg")
	loc := Local("abc", "file:///tmp/a.jpg")

	if !up.IsUploaded() || up.IsLocal() {
		t.Fatalf("uploaded ref has wrong kind: %v", up.Kind)
	}
	if !loc.IsLocal() || loc.IsUploaded() {
		t.Fatalf("local ref has wrong kind: %v", loc.Kind)
	}
	// A local URI that looks like a server name must not change the kind.
	tricky := Local("x", "r1.jpg")
	if tricky.Key() == up.Key() {
		t.Fatalf("keys collide across kinds: %s", tricky.Key())
	}
}

func TestParseDimensionAndFlow(t *testing.T) {
	if d, err := ParseDimension("PaymentMethod"); err != nil || d != DimensionPaymentMethod {
		t.Fatalf("ParseDimension = %v, %v", d, err)
	}
	if _, err := ParseDimension("color"); !errors.Is(err, ErrInvalidDimension) {
		t.Fatalf("expected ErrInvalidDimension, got %v", err)
	}
	if f, err := ParseFlowType(" Income "); err != nil || f != Income {
		t.Fatalf("ParseFlowType = %v, %v", f, err)
	}
	if !DimensionCategory.Scoped() || DimensionAttribution.Scoped() {
		t.Fatal("only category is scoped by flow type")
	}
}

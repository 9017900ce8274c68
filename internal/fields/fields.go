// =============================================================================
// XLSX Template Export - Field Vocabulary
// =============================================================================
//
// This module defines the closed set of record fields that a template may map
// to a column. Each field has a kind that decides how its value is written:
//
//   | Kind   | Fields                                         | Cell value            |
//   |--------|------------------------------------------------|-----------------------|
//   | text   | merchant_name, category, notes, ...            | verbatim string       |
//   | date   | receipt_date, due_date                         | date serial + format  |
//   | amount | subtotal, tax_amount, total_amount             | number + format       |
//
// Adding a field is a table edit: add a Key, then add its row to specs.
//
// =============================================================================

package fields

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/xlsx-template-export/internal/types"
)

// =============================================================================
// KINDS AND KEYS
// =============================================================================

// Kind decides how a field value is coerced into a cell.
type Kind int

const (
	Text Kind = iota
	Date
	Amount
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case Date:
		return "date"
	case Amount:
		return "amount"
	default:
		return "text"
	}
}

// Key names a mappable record field.
type Key string

const (
	InvoiceNumber       Key = "invoice_number"
	MerchantName        Key = "merchant_name"
	ReceiptDate         Key = "receipt_date"
	Category            Key = "category"
	Subtotal            Key = "subtotal"
	TaxAmount           Key = "tax_amount"
	TotalAmount         Key = "total_amount"
	Currency            Key = "currency"
	PaymentMethod       Key = "payment_method"
	VendorAddress       Key = "vendor_address"
	VendorTaxID         Key = "vendor_tax_id"
	Notes               Key = "notes"
	DocumentType        Key = "document_type"
	DueDate             Key = "due_date"
	PurchaseOrderNumber Key = "purchase_order_number"
	PaymentReference    Key = "payment_reference"
)

// =============================================================================
// FIELD TABLE
// =============================================================================

// Value is the extracted value of one field. Exactly one of Text, Date and
// Amount is meaningful, chosen by Kind; Present is false when the record
// has no value for the field.
type Value struct {
	Kind    Kind
	Present bool
	Text    string
	Amount  decimal.Decimal
}

// Spec describes one field of the vocabulary.
type Spec struct {
	Key  Key
	Kind Kind

	text   func(r *types.Record) **string
	amount func(r *types.Record) **decimal.Decimal
}

var specs = []Spec{
	textField(InvoiceNumber, func(r *types.Record) **string { return &r.InvoiceNumber }),
	textField(MerchantName, func(r *types.Record) **string { return &r.MerchantName }),
	dateField(ReceiptDate, func(r *types.Record) **string { return &r.ReceiptDate }),
	textField(Category, func(r *types.Record) **string { return &r.Category }),
	amountField(Subtotal, func(r *types.Record) **decimal.Decimal { return &r.Subtotal }),
	amountField(TaxAmount, func(r *types.Record) **decimal.Decimal { return &r.TaxAmount }),
	amountField(TotalAmount, func(r *types.Record) **decimal.Decimal { return &r.TotalAmount }),
	textField(Currency, func(r *types.Record) **string { return &r.Currency }),
	textField(PaymentMethod, func(r *types.Record) **string { return &r.PaymentMethod }),
	textField(VendorAddress, func(r *types.Record) **string { return &r.VendorAddress }),
	textField(VendorTaxID, func(r *types.Record) **string { return &r.VendorTaxID }),
	textField(Notes, func(r *types.Record) **string { return &r.Notes }),
	textField(DocumentType, func(r *types.Record) **string { return &r.DocumentType }),
	dateField(DueDate, func(r *types.Record) **string { return &r.DueDate }),
	textField(PurchaseOrderNumber, func(r *types.Record) **string { return &r.PurchaseOrderNumber }),
	textField(PaymentReference, func(r *types.Record) **string { return &r.PaymentReference }),
}

var byName = func() map[string]Spec {
	m := make(map[string]Spec, len(specs))
	for _, s := range specs {
		m[string(s.Key)] = s
	}
	return m
}()

func textField(k Key, f func(r *types.Record) **string) Spec {
	return Spec{Key: k, Kind: Text, text: f}
}

func dateField(k Key, f func(r *types.Record) **string) Spec {
	return Spec{Key: k, Kind: Date, text: f}
}

func amountField(k Key, f func(r *types.Record) **decimal.Decimal) Spec {
	return Spec{Key: k, Kind: Amount, amount: f}
}

// Lookup returns the field spec for a mapping key. Keys are matched exactly.
func Lookup(name string) (Spec, bool) {
	s, ok := byName[name]
	return s, ok
}

// All returns every field spec in vocabulary order.
func All() []Spec {
	out := make([]Spec, len(specs))
	copy(out, specs)
	return out
}

// Names returns the sorted list of field keys, for error messages.
func Names() []string {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, string(s.Key))
	}
	sort.Strings(names)
	return names
}

// Extract reads the field from a record without modifying it.
func (s Spec) Extract(r *types.Record) Value {
	v := Value{Kind: s.Kind}
	if r == nil {
		return v
	}
	switch s.Kind {
	case Amount:
		if p := *s.amount(r); p != nil {
			v.Present = true
			v.Amount = *p
		}
	default:
		if p := *s.text(r); p != nil {
			v.Present = true
			v.Text = *p
		}
	}
	return v
}

// Assign parses raw into the field of r. An empty raw string clears the
// field. Used by the CSV loader, where every column arrives as text.
func (s Spec) Assign(r *types.Record, raw string) error {
	if raw == "" {
		switch s.Kind {
		case Amount:
			*s.amount(r) = nil
		default:
			*s.text(r) = nil
		}
		return nil
	}

	switch s.Kind {
	case Amount:
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("field %s: invalid amount %q", s.Key, raw)
		}
		*s.amount(r) = &d
	default:
		v := raw
		*s.text(r) = &v
	}
	return nil
}

// =============================================================================
// DATES
// =============================================================================

// dateLayouts are tried in order. Only the calendar date is kept.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// ParseDate parses an ISO-8601 date string. The result is midnight UTC of
// the calendar date written in the string, ignoring any time-of-day or zone.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

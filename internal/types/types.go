// =============================================================================
// XLSX Template Export - Shared Types
// =============================================================================
//
// This package contains the data shapes shared by the engine, the validation
// rules, the record loaders and the template store. Keeping them here avoids
// import cycles between those packages.
//
//   - Record         : one extracted receipt/invoice, immutable engine input
//   - TemplateConfig : sheet name, start row and ordered field->column mapping
//
// =============================================================================

package types

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// RECORD
// =============================================================================

// Record is one extracted document. Every field except ID is optional; a nil
// pointer means the extraction pipeline did not produce a value.
type Record struct {
	// ID identifies the record in the upstream store. It is never written
	// to the spreadsheet.
	ID string `json:"id" yaml:"id"`

	InvoiceNumber       *string          `json:"invoice_number,omitempty" yaml:"invoice_number,omitempty"`
	MerchantName        *string          `json:"merchant_name,omitempty" yaml:"merchant_name,omitempty"`
	ReceiptDate         *string          `json:"receipt_date,omitempty" yaml:"receipt_date,omitempty"`
	Category            *string          `json:"category,omitempty" yaml:"category,omitempty"`
	Subtotal            *decimal.Decimal `json:"subtotal,omitempty" yaml:"subtotal,omitempty"`
	TaxAmount           *decimal.Decimal `json:"tax_amount,omitempty" yaml:"tax_amount,omitempty"`
	TotalAmount         *decimal.Decimal `json:"total_amount,omitempty" yaml:"total_amount,omitempty"`
	Currency            *string          `json:"currency,omitempty" yaml:"currency,omitempty"`
	PaymentMethod       *string          `json:"payment_method,omitempty" yaml:"payment_method,omitempty"`
	VendorAddress       *string          `json:"vendor_address,omitempty" yaml:"vendor_address,omitempty"`
	VendorTaxID         *string          `json:"vendor_tax_id,omitempty" yaml:"vendor_tax_id,omitempty"`
	Notes               *string          `json:"notes,omitempty" yaml:"notes,omitempty"`
	DocumentType        *string          `json:"document_type,omitempty" yaml:"document_type,omitempty"`
	DueDate             *string          `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	PurchaseOrderNumber *string          `json:"purchase_order_number,omitempty" yaml:"purchase_order_number,omitempty"`
	PaymentReference    *string          `json:"payment_reference,omitempty" yaml:"payment_reference,omitempty"`
}

// =============================================================================
// TEMPLATE CONFIGURATION
// =============================================================================

// Default display formats applied when a TemplateConfig leaves them empty.
const (
	DefaultDateFormat   = "yyyy-mm-dd"
	DefaultAmountFormat = "#,##0.00"
)

// TemplateConfig describes how to populate one template.
type TemplateConfig struct {
	// SheetName must match a sheet of the workbook exactly, including case
	// and any trailing whitespace the template author left in the name.
	SheetName string `json:"sheet_name" yaml:"sheet_name"`

	// StartRow is the 1-based row of the first record. Record i is written
	// to StartRow+i.
	StartRow int `json:"start_row" yaml:"start_row"`

	// FieldMapping associates record fields with columns, in order.
	FieldMapping FieldMapping `json:"field_mapping" yaml:"field_mapping"`

	// DateFormat is the number format code for date cells.
	// Default: "yyyy-mm-dd"
	DateFormat string `json:"date_format,omitempty" yaml:"date_format,omitempty"`

	// AmountFormat is the number format code for amount cells.
	// Default: "#,##0.00"
	AmountFormat string `json:"amount_format,omitempty" yaml:"amount_format,omitempty"`
}

// DateFormatOrDefault returns the configured date format or the default.
func (c TemplateConfig) DateFormatOrDefault() string {
	if c.DateFormat == "" {
		return DefaultDateFormat
	}
	return c.DateFormat
}

// AmountFormatOrDefault returns the configured amount format or the default.
func (c TemplateConfig) AmountFormatOrDefault() string {
	if c.AmountFormat == "" {
		return DefaultAmountFormat
	}
	return c.AmountFormat
}

// ColumnMapping maps a single record field to a spreadsheet column. Column
// is either a column letter ("B") or a 1-based column index ("2").
type ColumnMapping struct {
	Field  string `json:"field" yaml:"field"`
	Column string `json:"column" yaml:"column"`
}

// FieldMapping is an ordered list of field->column associations.
//
// In YAML it is written as a mapping, whose key order is preserved:
//
//	field_mapping:
//	  merchant_name: B
//	  receipt_date: C
//	  total_amount: G
//
// The long form (a sequence of {field, column} objects) is accepted as well.
type FieldMapping []ColumnMapping

// UnmarshalYAML decodes either the mapping or the sequence form.
func (m *FieldMapping) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(FieldMapping, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if value.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: column for field %q must be a letter or an index", value.Line, key.Value)
			}
			out = append(out, ColumnMapping{Field: key.Value, Column: value.Value})
		}
		*m = out
		return nil
	case yaml.SequenceNode:
		var items []ColumnMapping
		if err := node.Decode(&items); err != nil {
			return err
		}
		*m = items
		return nil
	default:
		return fmt.Errorf("line %d: field_mapping must be a mapping or a list", node.Line)
	}
}

// MarshalYAML writes the compact mapping form, keeping order.
func (m FieldMapping) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, cm := range m {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: cm.Field},
			&yaml.Node{Kind: yaml.ScalarNode, Value: cm.Column},
		)
	}
	return node, nil
}

// Fields returns the mapped field names in order.
func (m FieldMapping) Fields() []string {
	names := make([]string, len(m))
	for i, cm := range m {
		names[i] = cm.Field
	}
	return names
}

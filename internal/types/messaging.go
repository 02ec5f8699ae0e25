package types

import "time"

// RenewalNotification is the SQS payload emitted after a recurring payment
// is reconciled. Downstream consumers send the member their renewal notice.
// JSON tags use snake_case to match the consumer contract.
type RenewalNotification struct {
	EventID        string    `json:"event_id"`
	GatewayID      string    `json:"gateway_id"`
	MemberID       int64     `json:"member_id"`
	MembershipID   int64     `json:"membership_id"`
	RelationshipID int64     `json:"relationship_id"`
	InvoiceID      int64     `json:"invoice_id"`
	InvoiceNumber  int64     `json:"invoice_number"`
	ExternalRef    string    `json:"external_ref"`
	Total          float64   `json:"total"`
	Currency       string    `json:"currency"`
	PaidAt         time.Time `json:"paid_at"`
	TestMode       bool      `json:"test_mode"`
}

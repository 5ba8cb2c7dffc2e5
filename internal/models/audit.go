package models

// Audit actions recorded by the orchestrator.
const (
	AuditActionCreate   = "create"
	AuditActionPublish  = "publish"
	AuditActionMarkPaid = "mark_paid"
	AuditActionRetry    = "retry_publish"
)

// AuditEntry is one append-only record of a mutating operation. Entries are
// never updated or deleted.
type AuditEntry struct {
	// ID is assigned by the store on insert.
	ID int64 `json:"id"`

	// Action is one of the AuditAction constants.
	Action string `json:"action"`

	// ReceiptID is the receipt the action applies to.
	ReceiptID string `json:"receiptId"`

	// EventID is the protocol event involved, if any.
	EventID string `json:"eventId,omitempty"`

	// CreatedAt is the Unix timestamp (seconds) the entry was written.
	CreatedAt int64 `json:"createdAt"`

	// Details is a free-form JSON payload describing the action.
	Details map[string]any `json:"details,omitempty"`
}

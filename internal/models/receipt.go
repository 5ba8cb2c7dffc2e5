package models

// FlowMode describes who covers the bill.
type FlowMode string

const (
	// FlowSplit divides the total among all participants.
	FlowSplit FlowMode = "split"
	// FlowPayerCoversAll means the creator pays everything; shares are
	// informational only. Wire value kept from the original protocol.
	FlowPayerCoversAll FlowMode = "i-pay-all"
	// FlowOthersCoverAll means the participants cover the creator's bill.
	FlowOthersCoverAll FlowMode = "they-pay-all"
)

// Valid reports whether the flow mode is one of the known wire values.
func (f FlowMode) Valid() bool {
	switch f {
	case FlowSplit, FlowPayerCoversAll, FlowOthersCoverAll:
		return true
	}
	return false
}

// SyncStatus is the local lifecycle flag of a receipt describing whether it
// has been successfully broadcast to the relay network.
type SyncStatus string

const (
	// SyncLocal: persisted locally, never published.
	SyncLocal SyncStatus = "local"
	// SyncPublished: at least one relay accepted the request event.
	SyncPublished SyncStatus = "published"
	// SyncFailed: a publish was attempted and no relay accepted. The
	// receipt remains durable and retryable.
	SyncFailed SyncStatus = "failed"
)

// PaymentStatus describes a participant's payment progress. It is always
// derived from (ShareSats, PaidSats); see Participant.Status.
type PaymentStatus string

const (
	StatusPending  PaymentStatus = "pending"
	StatusPartial  PaymentStatus = "partial"
	StatusPaid     PaymentStatus = "paid"
	StatusOverpaid PaymentStatus = "overpaid"
)

// Participant is one person's allocation on a receipt.
type Participant struct {
	// Pubkey is the participant's public key (64-char lowercase hex).
	Pubkey string `json:"pubkey"`

	// ShareSats is this participant's share in sats.
	ShareSats int64 `json:"shareSats"`

	// PaidSats is how much this participant has paid so far, in sats.
	PaidSats int64 `json:"paidSats"`
}

// Status derives the payment status from the share and paid amounts.
func (p Participant) Status() PaymentStatus {
	switch {
	case p.PaidSats == 0:
		return StatusPending
	case p.PaidSats < p.ShareSats:
		return StatusPartial
	case p.PaidSats == p.ShareSats:
		return StatusPaid
	default:
		return StatusOverpaid
	}
}

// Receipt is the durable record of one split payment request.
//
// Invariant: the sum of participant shares never exceeds AmountSats.
// Equality is the common case; a shortfall can only come from weighted-split
// rounding.
type Receipt struct {
	// ID is the unique identifier for the receipt (UUID format).
	ID string `json:"id"`

	// RequestID is the protocol-level request identifier carried in the
	// published event's "rid" tag (timestamp-prefixed, sortable).
	RequestID string `json:"requestId"`

	// CreatedAt is the Unix timestamp (seconds) when the receipt was created.
	CreatedAt int64 `json:"createdAt"`

	// AmountFiat is the user-entered total in fiat.
	AmountFiat float64 `json:"amountFiat"`

	// Currency is the ISO 4217 code of AmountFiat (e.g. "USD").
	Currency string `json:"currency"`

	// AmountSats is floor(AmountFiat * FxRate) at creation time.
	AmountSats int64 `json:"amountSats"`

	// FxRate is the sats-per-fiat-unit rate used to price this receipt.
	FxRate int64 `json:"fxRate"`

	// FxSource names the rate source (e.g. "CoinGecko", "Manual Entry").
	FxSource string `json:"fxSource"`

	// FxTimestamp is when the rate was fetched, Unix milliseconds.
	FxTimestamp int64 `json:"fxTimestamp"`

	// MealType is the generic category label. It is the only content that
	// ever leaves the device; merchant and location never do.
	MealType string `json:"mealType"`

	// Flow describes who covers the bill.
	Flow FlowMode `json:"flow"`

	// Participants is the ordered allocation of the total.
	Participants []Participant `json:"participants"`

	// ImageHash is the SHA-256 of the attached receipt image, or a
	// synthetic id when no image was captured.
	ImageHash string `json:"imageHash"`

	// ImageURI is the local name of the stored image, re-keyed to the
	// event id after a successful publish. Empty if no image.
	ImageURI string `json:"imageUri,omitempty"`

	// EventID is the id of the published request event, set once at least
	// one relay has accepted it.
	EventID string `json:"eventId,omitempty"`

	// SyncStatus tracks whether the receipt has been broadcast.
	SyncStatus SyncStatus `json:"syncStatus"`
}

// TotalOwed returns the sum of participant shares in sats.
func (r *Receipt) TotalOwed() int64 {
	var sum int64
	for _, p := range r.Participants {
		sum += p.ShareSats
	}
	return sum
}

// TotalPaid returns the sum of participant payments in sats.
func (r *Receipt) TotalPaid() int64 {
	var sum int64
	for _, p := range r.Participants {
		sum += p.PaidSats
	}
	return sum
}

// FindParticipant returns the index of the participant with the given
// pubkey, or -1 if absent.
func (r *Receipt) FindParticipant(pubkey string) int {
	for i, p := range r.Participants {
		if p.Pubkey == pubkey {
			return i
		}
	}
	return -1
}

// Package events builds the protocol event bodies: the public payment
// request, the per-participant encrypted notice, and the paid-confirmation
// reply. Builders return unsigned events; signing belongs to the caller.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/satsplit/satsplit/internal/models"
	"github.com/satsplit/satsplit/internal/nostr"
)

// PaymentRequest builds the public request event. The content is the
// generic category label only; merchant and location never appear, on
// purpose.
func PaymentRequest(receipt *models.Receipt, createdAt time.Time) *nostr.Event {
	tags := []Tag{
		requestID(receipt.RequestID),
		imageHash(receipt.ImageHash),
		amount(receipt.AmountSats),
		currency(receipt.Currency),
		fxRate(models.ExchangeRate{
			Currency:    receipt.Currency,
			SatsPerUnit: receipt.FxRate,
			Source:      receipt.FxSource,
			Timestamp:   receipt.FxTimestamp,
		}),
		splitTable{flow: receipt.Flow, participants: receipt.Participants},
		meal(receipt.MealType),
		privacyMarker{},
		flowMode(receipt.Flow),
	}
	for _, p := range receipt.Participants {
		tags = append(tags, recipient(p.Pubkey))
	}

	return &nostr.Event{
		CreatedAt: createdAt.Unix(),
		Kind:      nostr.KindNote,
		Tags:      wireTags(tags...),
		Content:   fmt.Sprintf("%s request", receipt.MealType),
	}
}

// noticePayload is the recipient-only JSON inside a notice DM.
type noticePayload struct {
	Type           string `json:"type"`
	RequestID      string `json:"requestId"`
	MealType       string `json:"mealType"`
	YourShare      int64  `json:"yourShare"`
	TotalAmount    int64  `json:"totalAmount"`
	Currency       string `json:"currency"`
	RequestEventID string `json:"requestEventId"`
	Message        string `json:"message"`
}

// RecipientNotice builds the per-participant private notice: an encrypted
// direct message describing the recipient's own share. Best-effort by
// contract; callers must not fail the overall request when one notice
// cannot be built or delivered.
func RecipientNotice(priv *btcec.PrivateKey, receipt *models.Receipt, p models.Participant, requestEventID string, createdAt time.Time) (*nostr.Event, error) {
	payload, err := json.Marshal(noticePayload{
		Type:           "payment_request",
		RequestID:      receipt.RequestID,
		MealType:       receipt.MealType,
		YourShare:      p.ShareSats,
		TotalAmount:    receipt.AmountSats,
		Currency:       receipt.Currency,
		RequestEventID: requestEventID,
		Message:        fmt.Sprintf("You have a payment request for %s: %d sats", receipt.MealType, p.ShareSats),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode notice payload: %w", err)
	}

	encrypted, err := nostr.EncryptDM(priv, p.Pubkey, string(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt notice for %s: %w", p.Pubkey, err)
	}

	return &nostr.Event{
		CreatedAt: createdAt.Unix(),
		Kind:      nostr.KindEncryptedDM,
		Tags: wireTags(
			recipient(p.Pubkey),
			requestID(receipt.RequestID),
		),
		Content: encrypted,
	}, nil
}

// PaidReply builds the confirmation reply referencing the original public
// request event.
func PaidReply(originalEventID, reqID string, p models.Participant, m models.PayMethod, createdAt time.Time) *nostr.Event {
	return &nostr.Event{
		CreatedAt: createdAt.Unix(),
		Kind:      nostr.KindNote,
		Tags: wireTags(
			replyTo(originalEventID),
			requestID(reqID),
			paid{pubkey: p.Pubkey, sats: p.PaidSats},
			method(m),
		),
		Content: fmt.Sprintf("Payment received: %d sats", p.PaidSats),
	}
}

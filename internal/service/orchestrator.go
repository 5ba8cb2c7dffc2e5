// Package service coordinates the request lifecycle: pricing, share
// arithmetic, persistence, signing, publishing, and notifications.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/satsplit/satsplit/internal/events"
	"github.com/satsplit/satsplit/internal/keyvault"
	"github.com/satsplit/satsplit/internal/models"
	"github.com/satsplit/satsplit/internal/nostr"
	"github.com/satsplit/satsplit/internal/rates"
	"github.com/satsplit/satsplit/internal/relay"
	"github.com/satsplit/satsplit/internal/split"
	"github.com/satsplit/satsplit/internal/storage"
)

var (
	// ErrInvalidRequest rejects malformed creation input before any
	// persistence or signing.
	ErrInvalidRequest = errors.New("invalid request")
)

// ParticipantInput names one participant and an optional weight. A zero
// weight on every participant means an equal split.
type ParticipantInput struct {
	Pubkey string `json:"pubkey"`
	Weight int64  `json:"weight,omitempty"`
}

// RequestInput is everything needed to create and publish one payment
// request.
type RequestInput struct {
	AmountFiat   float64            `json:"amountFiat"`
	Currency     string             `json:"currency"`
	MealType     string             `json:"mealType"`
	Flow         models.FlowMode    `json:"flow"`
	Participants []ParticipantInput `json:"participants"`

	// Image is the optional receipt photo. Only its hash ever leaves the
	// device.
	Image []byte `json:"image,omitempty"`

	// ManualRateSats, when positive, overrides the live rate lookup with a
	// user-entered sats-per-unit value.
	ManualRateSats int64 `json:"manualRateSats,omitempty"`

	// SignerPubkey selects the stored key; Password unlocks it.
	SignerPubkey string `json:"signerPubkey"`
	Password     string `json:"-"`
}

// RequestResult pairs the durable receipt with the publish verdicts. A
// failed publish is not an error: the receipt stays retryable.
type RequestResult struct {
	Receipt *models.Receipt      `json:"receipt"`
	Publish relay.PublishOutcome `json:"publish"`
}

// Orchestrator runs the end-to-end request lifecycle. Local persistence
// always precedes any network attempt, so a dead network can lose
// publication but never the record.
type Orchestrator struct {
	store     storage.Store
	rates     *rates.Provider
	registry  *relay.Registry
	publisher *relay.Publisher
	now       func() time.Time
	query     func(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error)
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(store storage.Store, rateProvider *rates.Provider, registry *relay.Registry, publisher *relay.Publisher) *Orchestrator {
	return &Orchestrator{
		store:     store,
		rates:     rateProvider,
		registry:  registry,
		publisher: publisher,
		now:       time.Now,
		query:     relay.Query,
	}
}

// WithClock overrides the time source (tests).
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// WithQuery overrides the relay query function (tests).
func (o *Orchestrator) WithQuery(query func(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error)) *Orchestrator {
	o.query = query
	return o
}

// CreateRequest prices the fiat amount, splits it, persists the receipt,
// signs the request event and broadcasts it. The receipt is durable before
// the first network write; publish failure marks it failed and retryable.
func (o *Orchestrator) CreateRequest(ctx context.Context, in RequestInput) (*RequestResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	rate, err := o.resolveRate(ctx, in)
	if err != nil {
		return nil, err
	}
	amountSats := rates.Convert(in.AmountFiat, rate)

	shares, err := computeShares(amountSats, in.Participants)
	if err != nil {
		return nil, err
	}
	if err := split.Validate(amountSats, shares); err != nil {
		return nil, err
	}

	now := o.now()
	receipt := &models.Receipt{
		RequestID:   newRequestID(now),
		CreatedAt:   now.Unix(),
		AmountFiat:  in.AmountFiat,
		Currency:    strings.ToUpper(in.Currency),
		AmountSats:  amountSats,
		FxRate:      rate.SatsPerUnit,
		FxSource:    rate.Source,
		FxTimestamp: rate.Timestamp,
		MealType:    in.MealType,
		Flow:        in.Flow,
		SyncStatus:  models.SyncLocal,
	}
	for i, p := range in.Participants {
		receipt.Participants = append(receipt.Participants, models.Participant{
			Pubkey:    p.Pubkey,
			ShareSats: shares[i],
		})
	}

	if len(in.Image) > 0 {
		sum := sha256.Sum256(in.Image)
		receipt.ImageHash = hex.EncodeToString(sum[:])
		receipt.ImageURI = "rcpt_" + receipt.RequestID + ".png"
	} else {
		receipt.ImageHash = "noimg-" + receipt.RequestID
	}

	if err := o.store.SaveReceipt(ctx, receipt); err != nil {
		return nil, err
	}
	if receipt.ImageURI != "" {
		if err := o.store.SaveImage(ctx, receipt.ImageURI, in.Image); err != nil {
			return nil, err
		}
	}
	o.audit(ctx, models.AuditActionCreate, receipt.ID, "", map[string]any{
		"currency":   receipt.Currency,
		"amountSats": receipt.AmountSats,
		"fxSource":   receipt.FxSource,
	})

	outcome, err := o.signAndPublish(ctx, receipt, in.SignerPubkey, in.Password)
	if err != nil {
		return nil, err
	}
	return &RequestResult{Receipt: receipt, Publish: outcome}, nil
}

// MarkParticipantPaid records a payment against a participant's share and
// broadcasts the confirmation reply. The receipt must already be published;
// a wrong password fails the call before anything is recorded. The local
// record is the source of truth: only the reply broadcast itself is
// best-effort.
func (o *Orchestrator) MarkParticipantPaid(ctx context.Context, receiptID, pubkey string, paidSats int64, method models.PayMethod, signerPubkey, password string) (*models.Receipt, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidRequest, method)
	}
	if paidSats <= 0 {
		return nil, fmt.Errorf("%w: paid amount must be positive", ErrInvalidRequest)
	}

	receipt, err := o.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt.EventID == "" {
		return nil, fmt.Errorf("%w: receipt not published", ErrInvalidRequest)
	}
	i := receipt.FindParticipant(pubkey)
	if i < 0 {
		return nil, storage.ErrParticipantNotFound
	}

	priv, err := o.unlockKey(ctx, signerPubkey, password)
	if err != nil {
		return nil, err
	}

	receipt.Participants[i].PaidSats += paidSats
	if err := o.store.UpdateParticipantPayment(ctx, receiptID, pubkey, receipt.Participants[i].PaidSats); err != nil {
		return nil, err
	}
	o.audit(ctx, models.AuditActionMarkPaid, receipt.ID, receipt.EventID, map[string]any{
		"pubkey":    pubkey,
		"paidSats":  paidSats,
		"totalPaid": receipt.Participants[i].PaidSats,
		"status":    string(receipt.Participants[i].Status()),
		"method":    string(method),
	})

	reply := events.PaidReply(receipt.EventID, receipt.RequestID, receipt.Participants[i], method, o.now())
	if err := reply.Sign(priv); err != nil {
		return nil, fmt.Errorf("failed to sign paid reply: %w", err)
	}
	if outcome := o.publisher.Publish(ctx, reply, o.registry.WriteURLs()); !outcome.Success {
		slog.Warn("paid reply broadcast failed",
			"receipt_id", receiptID,
			"participant", pubkey,
		)
	}
	return receipt, nil
}

// RetryPublish re-signs and re-broadcasts the request event of a receipt
// that is not yet published.
func (o *Orchestrator) RetryPublish(ctx context.Context, receiptID, signerPubkey, password string) (*RequestResult, error) {
	receipt, err := o.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt.SyncStatus == models.SyncPublished {
		return nil, fmt.Errorf("%w: receipt already published", ErrInvalidRequest)
	}

	outcome, err := o.signAndPublish(ctx, receipt, signerPubkey, password)
	if err != nil {
		return nil, err
	}
	o.audit(ctx, models.AuditActionRetry, receipt.ID, receipt.EventID, map[string]any{
		"success": outcome.Success,
	})
	return &RequestResult{Receipt: receipt, Publish: outcome}, nil
}

// Get retrieves one receipt.
func (o *Orchestrator) Get(ctx context.Context, id string) (*models.Receipt, error) {
	return o.store.GetReceipt(ctx, id)
}

// List returns all receipts, most recent first.
func (o *Orchestrator) List(ctx context.Context) ([]*models.Receipt, error) {
	return o.store.GetAllReceipts(ctx)
}

// AuditTrail returns a receipt's audit entries, oldest first.
func (o *Orchestrator) AuditTrail(ctx context.Context, receiptID string) ([]*models.AuditEntry, error) {
	return o.store.ListAuditEntries(ctx, receiptID)
}

// ObserveZaps queries the read relays for zap receipts referencing a
// published request event, deduplicated by event id across relays.
// Observational only: crediting a zap to a participant's share stays an
// explicit MarkParticipantPaid call.
func (o *Orchestrator) ObserveZaps(ctx context.Context, receiptID string) ([]*nostr.Event, error) {
	receipt, err := o.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt.EventID == "" {
		return nil, fmt.Errorf("%w: receipt not published", ErrInvalidRequest)
	}

	filter := nostr.Filter{
		Kinds: []int{nostr.KindZapReceipt},
		ETags: []string{receipt.EventID},
		Limit: 100,
	}
	seen := make(map[string]bool)
	var zaps []*nostr.Event
	for _, url := range o.registry.ReadURLs() {
		evs, err := o.query(ctx, url, filter)
		if err != nil {
			slog.Warn("zap query failed", "relay", url, "error", err)
			continue
		}
		for _, ev := range evs {
			if ev.Kind != nostr.KindZapReceipt || seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			zaps = append(zaps, ev)
		}
	}
	return zaps, nil
}

// signAndPublish signs the receipt's request event, broadcasts it to the
// write relays, and reconciles the receipt's sync state with the outcome.
func (o *Orchestrator) signAndPublish(ctx context.Context, receipt *models.Receipt, signerPubkey, password string) (relay.PublishOutcome, error) {
	priv, err := o.unlockKey(ctx, signerPubkey, password)
	if err != nil {
		return relay.PublishOutcome{}, err
	}

	ev := events.PaymentRequest(receipt, time.Unix(receipt.CreatedAt, 0))
	if err := ev.Sign(priv); err != nil {
		return relay.PublishOutcome{}, fmt.Errorf("failed to sign request event: %w", err)
	}

	urls := o.registry.WriteURLs()
	outcome := o.publisher.Publish(ctx, ev, urls)
	if !outcome.Success {
		if err := o.store.UpdateReceiptStatus(ctx, receipt.ID, models.SyncFailed); err != nil {
			return outcome, err
		}
		receipt.SyncStatus = models.SyncFailed
		return outcome, nil
	}

	if err := o.store.UpdateReceiptEventID(ctx, receipt.ID, ev.ID); err != nil {
		return outcome, err
	}
	receipt.EventID = ev.ID
	receipt.SyncStatus = models.SyncPublished
	if err := o.store.RenameImage(ctx, receipt.ID, ev.ID); err != nil {
		slog.Warn("image rename failed", "receipt_id", receipt.ID, "error", err)
	} else if receipt.ImageURI != "" {
		receipt.ImageURI = "rcpt_" + ev.ID + ".png"
	}
	o.audit(ctx, models.AuditActionPublish, receipt.ID, ev.ID, map[string]any{
		"relays":   len(urls),
		"accepted": countAccepted(outcome),
	})

	if errs := o.notifyParticipants(ctx, priv, receipt, ev.ID, urls); len(errs) > 0 {
		slog.Warn("some share notices undelivered",
			"receipt_id", receipt.ID,
			"failed", len(errs),
			"participants", len(receipt.Participants),
		)
	}
	return outcome, nil
}

// noticeWorkers bounds the concurrent notice deliveries per request.
const noticeWorkers = 4

// notifyParticipants fans out each participant's encrypted share notice
// across a bounded worker set. Strictly best-effort: failures are logged
// and collected, never fatal to the request.
func (o *Orchestrator) notifyParticipants(ctx context.Context, priv *btcec.PrivateKey, receipt *models.Receipt, requestEventID string, urls []string) []error {
	sem := make(chan struct{}, noticeWorkers)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range receipt.Participants {
		wg.Add(1)
		sem <- struct{}{}
		go func(p models.Participant) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := o.sendNotice(ctx, priv, receipt, p, requestEventID, urls); err != nil {
				slog.Warn("notice delivery failed", "participant", p.Pubkey, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return errs
}

func (o *Orchestrator) sendNotice(ctx context.Context, priv *btcec.PrivateKey, receipt *models.Receipt, p models.Participant, requestEventID string, urls []string) error {
	notice, err := events.RecipientNotice(priv, receipt, p, requestEventID, o.now())
	if err != nil {
		return fmt.Errorf("failed to build notice for %s: %w", p.Pubkey, err)
	}
	if err := notice.Sign(priv); err != nil {
		return fmt.Errorf("failed to sign notice for %s: %w", p.Pubkey, err)
	}
	if outcome := o.publisher.Publish(ctx, notice, urls); !outcome.Success {
		return fmt.Errorf("no relay accepted notice for %s: %w", p.Pubkey, relay.ErrNoRelaysAccepted)
	}
	return nil
}

// unlockKey performs the decrypt-use-discard cycle: the plaintext secret
// exists only between here and the caller's signing, and the hex copy is
// zeroed before returning.
func (o *Orchestrator) unlockKey(ctx context.Context, signerPubkey, password string) (*btcec.PrivateKey, error) {
	stored, err := o.store.GetKey(ctx, signerPubkey)
	if err != nil {
		return nil, err
	}
	secret, err := keyvault.Decrypt(stored.EncryptedSecret, password)
	if err != nil {
		return nil, err
	}
	defer keyvault.Zero(secret)

	priv, err := nostr.ParseSecret(string(secret))
	if err != nil {
		return nil, fmt.Errorf("stored key is corrupt: %w", err)
	}
	if err := o.store.TouchKey(ctx, signerPubkey, o.now().Unix()); err != nil {
		slog.Warn("failed to update key last-used time", "error", err)
	}
	return priv, nil
}

func (o *Orchestrator) resolveRate(ctx context.Context, in RequestInput) (models.ExchangeRate, error) {
	if in.ManualRateSats > 0 {
		return rates.ManualRate(in.Currency, in.ManualRateSats, o.now()), nil
	}
	return o.rates.GetRate(ctx, in.Currency)
}

func (o *Orchestrator) audit(ctx context.Context, action, receiptID, eventID string, details map[string]any) {
	entry := &models.AuditEntry{
		Action:    action,
		ReceiptID: receiptID,
		EventID:   eventID,
		CreatedAt: o.now().Unix(),
		Details:   details,
	}
	if err := o.store.AddAuditEntry(ctx, entry); err != nil {
		slog.Error("audit write failed", "action", action, "receipt_id", receiptID, "error", err)
	}
}

func validateInput(in RequestInput) error {
	if in.AmountFiat <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if !in.Flow.Valid() {
		return fmt.Errorf("%w: unknown flow %q", ErrInvalidRequest, in.Flow)
	}
	if len(in.Participants) == 0 {
		return fmt.Errorf("%w: need at least one participant", ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(in.Participants))
	for _, p := range in.Participants {
		if p.Pubkey == "" {
			return fmt.Errorf("%w: participant with empty pubkey", ErrInvalidRequest)
		}
		if seen[p.Pubkey] {
			return fmt.Errorf("%w: duplicate participant %s", ErrInvalidRequest, p.Pubkey)
		}
		seen[p.Pubkey] = true
	}
	if in.SignerPubkey == "" {
		return fmt.Errorf("%w: missing signer pubkey", ErrInvalidRequest)
	}
	return nil
}

// computeShares picks equal or weighted arithmetic: any non-zero weight
// switches the whole allocation to weighted mode.
func computeShares(amountSats int64, participants []ParticipantInput) ([]int64, error) {
	weighted := false
	for _, p := range participants {
		if p.Weight != 0 {
			weighted = true
			break
		}
	}
	if !weighted {
		return split.Equal(amountSats, len(participants))
	}

	weights := make([]int64, len(participants))
	for i, p := range participants {
		weights[i] = p.Weight
	}
	return split.Weighted(amountSats, weights)
}

// newRequestID builds the sortable protocol request id: millisecond
// timestamp in base36, a dash, then 8 random bytes in hex.
func newRequestID(now time.Time) string {
	random := make([]byte, 8)
	rand.Read(random)
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + hex.EncodeToString(random)
}

func countAccepted(outcome relay.PublishOutcome) int {
	n := 0
	for _, r := range outcome.Relays {
		if r.Accepted {
			n++
		}
	}
	return n
}

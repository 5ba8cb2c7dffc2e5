package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satsplit/satsplit/internal/keyvault"
	"github.com/satsplit/satsplit/internal/models"
	"github.com/satsplit/satsplit/internal/nostr"
	"github.com/satsplit/satsplit/internal/rates"
	"github.com/satsplit/satsplit/internal/relay"
	"github.com/satsplit/satsplit/internal/storage"
	"github.com/satsplit/satsplit/internal/storage/sqlite"
)

const testPassword = "correct horse battery staple"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeRelay runs an in-process relay that acknowledges every event
// according to accept.
func fakeRelay(t *testing.T, accept bool) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame []json.RawMessage
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			var label string
			json.Unmarshal(frame[0], &label)
			if label != "EVENT" || len(frame) < 2 {
				continue
			}
			var ev nostr.Event
			json.Unmarshal(frame[1], &ev)
			resp, _ := json.Marshal([]any{"OK", ev.ID, accept, ""})
			conn.WriteMessage(websocket.TextMessage, resp)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type fixture struct {
	orch     *Orchestrator
	store    *sqlite.SQLiteStore
	registry *relay.Registry
	pubkey   string
	friends  []string
}

func newFixture(t *testing.T, relayURL string) *fixture {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "satsplit-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := sqlite.New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()

	priv, err := nostr.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	token, err := keyvault.Encrypt([]byte(nostr.SecretHex(priv)), testPassword)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	pubkey := nostr.PublicKeyHex(priv)
	if err := store.SaveKey(ctx, &models.StoredKey{Pubkey: pubkey, EncryptedSecret: token}); err != nil {
		t.Fatalf("SaveKey failed: %v", err)
	}

	registry := relay.NewRegistry(store)
	if err := registry.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := registry.Replace(ctx, []models.Relay{{URL: relayURL, Read: true, Write: true}}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	var friends []string
	for i := 0; i < 2; i++ {
		fp, err := nostr.GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey failed: %v", err)
		}
		friends = append(friends, nostr.PublicKeyHex(fp))
	}

	orch := NewOrchestrator(
		store,
		rates.NewProvider(),
		registry,
		relay.NewPublisherWithTimeout(time.Second),
	).WithClock(func() time.Time { return time.Unix(1700000000, 0) })

	return &fixture{orch: orch, store: store, registry: registry, pubkey: pubkey, friends: friends}
}

func (f *fixture) input() RequestInput {
	return RequestInput{
		AmountFiat: 30.0,
		Currency:   "usd",
		MealType:   "Dinner",
		Flow:       models.FlowSplit,
		Participants: []ParticipantInput{
			{Pubkey: f.friends[0]},
			{Pubkey: f.friends[1]},
		},
		ManualRateSats: 3000,
		SignerPubkey:   f.pubkey,
		Password:       testPassword,
	}
}

func TestCreateRequestPublishes(t *testing.T) {
	f := newFixture(t, fakeRelay(t, true))
	ctx := context.Background()

	result, err := f.orch.CreateRequest(ctx, f.input())
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	receipt := result.Receipt
	if !result.Publish.Success {
		t.Fatal("Publish.Success = false")
	}
	if receipt.SyncStatus != models.SyncPublished {
		t.Errorf("SyncStatus = %q, want published", receipt.SyncStatus)
	}
	if receipt.EventID == "" {
		t.Error("EventID not set after accepted publish")
	}
	if receipt.AmountSats != 90000 {
		t.Errorf("AmountSats = %d, want 90000", receipt.AmountSats)
	}
	if receipt.Currency != "USD" {
		t.Errorf("Currency = %q, want USD (normalized)", receipt.Currency)
	}
	if got := receipt.TotalOwed(); got != 90000 {
		t.Errorf("TotalOwed = %d, want full allocation", got)
	}
	if receipt.RequestID == "" || !strings.Contains(receipt.RequestID, "-") {
		t.Errorf("RequestID = %q, want timestamp-random form", receipt.RequestID)
	}
	if !strings.HasPrefix(receipt.ImageHash, "noimg-") {
		t.Errorf("ImageHash = %q, want synthetic id without image", receipt.ImageHash)
	}

	stored, err := f.orch.Get(ctx, receipt.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.SyncStatus != models.SyncPublished || stored.EventID != receipt.EventID {
		t.Errorf("stored receipt = %+v, want published state persisted", stored)
	}

	trail, err := f.orch.AuditTrail(ctx, receipt.ID)
	if err != nil {
		t.Fatalf("AuditTrail failed: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("audit entries = %d, want create + publish", len(trail))
	}
	if trail[0].Action != models.AuditActionCreate || trail[1].Action != models.AuditActionPublish {
		t.Errorf("audit actions = %q, %q", trail[0].Action, trail[1].Action)
	}
}

func TestCreateRequestWithImage(t *testing.T) {
	f := newFixture(t, fakeRelay(t, true))
	ctx := context.Background()

	in := f.input()
	in.Image = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a}
	result, err := f.orch.CreateRequest(ctx, in)
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	receipt := result.Receipt
	if len(receipt.ImageHash) != 64 {
		t.Errorf("ImageHash = %q, want sha256 hex", receipt.ImageHash)
	}
	wantURI := "rcpt_" + receipt.EventID + ".png"
	if receipt.ImageURI != wantURI {
		t.Errorf("ImageURI = %q, want %q (re-keyed to event id)", receipt.ImageURI, wantURI)
	}
	data, err := f.store.GetImage(ctx, wantURI)
	if err != nil {
		t.Fatalf("GetImage failed: %v", err)
	}
	if len(data) != len(in.Image) {
		t.Errorf("image = %d bytes, want %d", len(data), len(in.Image))
	}
}

func TestCreateRequestPublishFailureIsRetryable(t *testing.T) {
	f := newFixture(t, fakeRelay(t, false))
	ctx := context.Background()

	result, err := f.orch.CreateRequest(ctx, f.input())
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if result.Publish.Success {
		t.Fatal("Publish.Success = true against a rejecting relay")
	}
	if result.Receipt.SyncStatus != models.SyncFailed {
		t.Errorf("SyncStatus = %q, want failed", result.Receipt.SyncStatus)
	}
	if result.Receipt.EventID != "" {
		t.Errorf("EventID = %q, want empty until accepted", result.Receipt.EventID)
	}

	// Point the working set at an accepting relay and retry.
	good := fakeRelay(t, true)
	if err := f.registry.Replace(ctx, []models.Relay{{URL: good, Read: true, Write: true}}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	retried, err := f.orch.RetryPublish(ctx, result.Receipt.ID, f.pubkey, testPassword)
	if err != nil {
		t.Fatalf("RetryPublish failed: %v", err)
	}
	if !retried.Publish.Success {
		t.Fatal("retry Publish.Success = false")
	}
	if retried.Receipt.SyncStatus != models.SyncPublished {
		t.Errorf("SyncStatus after retry = %q, want published", retried.Receipt.SyncStatus)
	}

	if _, err := f.orch.RetryPublish(ctx, result.Receipt.ID, f.pubkey, testPassword); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("retry of published receipt = %v, want ErrInvalidRequest", err)
	}
}

func TestMarkParticipantPaid(t *testing.T) {
	f := newFixture(t, fakeRelay(t, true))
	ctx := context.Background()

	result, err := f.orch.CreateRequest(ctx, f.input())
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	receiptID := result.Receipt.ID
	payer := f.friends[0]

	receipt, err := f.orch.MarkParticipantPaid(ctx, receiptID, payer, 45000, models.PayMethodZap, f.pubkey, testPassword)
	if err != nil {
		t.Fatalf("MarkParticipantPaid failed: %v", err)
	}
	i := receipt.FindParticipant(payer)
	if receipt.Participants[i].Status() != models.StatusPaid {
		t.Errorf("status = %q, want paid", receipt.Participants[i].Status())
	}

	// A second payment accumulates into overpaid rather than replacing.
	receipt, err = f.orch.MarkParticipantPaid(ctx, receiptID, payer, 1000, models.PayMethodManual, f.pubkey, testPassword)
	if err != nil {
		t.Fatalf("MarkParticipantPaid failed: %v", err)
	}
	i = receipt.FindParticipant(payer)
	if receipt.Participants[i].PaidSats != 46000 {
		t.Errorf("PaidSats = %d, want 46000", receipt.Participants[i].PaidSats)
	}
	if receipt.Participants[i].Status() != models.StatusOverpaid {
		t.Errorf("status = %q, want overpaid", receipt.Participants[i].Status())
	}

	trail, err := f.orch.AuditTrail(ctx, receiptID)
	if err != nil {
		t.Fatalf("AuditTrail failed: %v", err)
	}
	marks := 0
	for _, e := range trail {
		if e.Action == models.AuditActionMarkPaid {
			marks++
		}
	}
	if marks != 2 {
		t.Errorf("mark_paid entries = %d, want 2", marks)
	}

	if _, err := f.orch.MarkParticipantPaid(ctx, receiptID, "unknown", 10, models.PayMethodZap, f.pubkey, testPassword); !errors.Is(err, storage.ErrParticipantNotFound) {
		t.Errorf("err = %v, want ErrParticipantNotFound", err)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t, fakeRelay(t, true))
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*RequestInput)
		want   error
	}{
		{"zero amount", func(in *RequestInput) { in.AmountFiat = 0 }, ErrInvalidRequest},
		{"bad flow", func(in *RequestInput) { in.Flow = "dutch" }, ErrInvalidRequest},
		{"no participants", func(in *RequestInput) { in.Participants = nil }, ErrInvalidRequest},
		{"duplicate participant", func(in *RequestInput) {
			in.Participants = append(in.Participants, in.Participants[0])
		}, ErrInvalidRequest},
		{"unsupported currency", func(in *RequestInput) {
			in.Currency = "JPY"
			in.ManualRateSats = 0
		}, rates.ErrUnsupportedCurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.input()
			tt.mutate(&in)
			if _, err := f.orch.CreateRequest(ctx, in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateRequestWrongPassword(t *testing.T) {
	f := newFixture(t, fakeRelay(t, true))
	ctx := context.Background()

	in := f.input()
	in.Password = "nope"
	_, err := f.orch.CreateRequest(ctx, in)
	if !errors.Is(err, keyvault.ErrDecryptionFailed) {
		t.Fatalf("err = %v, want ErrDecryptionFailed", err)
	}

	// The receipt itself was persisted before the signing attempt.
	all, err := f.orch.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("receipts = %d, want the durable local record", len(all))
	}
}

func TestMarkPaidWrongPassword(t *testing.T) {
	f := newFixture(t, fakeRelay(t, true))
	ctx := context.Background()

	result, err := f.orch.CreateRequest(ctx, f.input())
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	payer := f.friends[0]

	_, err = f.orch.MarkParticipantPaid(ctx, result.Receipt.ID, payer, 45000, models.PayMethodZap, f.pubkey, "nope")
	if !errors.Is(err, keyvault.ErrDecryptionFailed) {
		t.Fatalf("err = %v, want ErrDecryptionFailed", err)
	}

	// The failed call must not have recorded the payment.
	stored, err := f.orch.Get(ctx, result.Receipt.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	i := stored.FindParticipant(payer)
	if stored.Participants[i].PaidSats != 0 {
		t.Errorf("PaidSats = %d, want 0 after rejected unlock", stored.Participants[i].PaidSats)
	}
	for _, e := range mustTrail(t, f, result.Receipt.ID) {
		if e.Action == models.AuditActionMarkPaid {
			t.Error("mark_paid audit entry written despite rejected unlock")
		}
	}
}

func TestMarkPaidUnpublished(t *testing.T) {
	f := newFixture(t, fakeRelay(t, false))
	ctx := context.Background()

	result, err := f.orch.CreateRequest(ctx, f.input())
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if result.Receipt.SyncStatus != models.SyncFailed {
		t.Fatalf("SyncStatus = %q, want failed", result.Receipt.SyncStatus)
	}

	_, err = f.orch.MarkParticipantPaid(ctx, result.Receipt.ID, f.friends[0], 1000, models.PayMethodManual, f.pubkey, testPassword)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest for an unpublished receipt", err)
	}
}

func mustTrail(t *testing.T, f *fixture, receiptID string) []*models.AuditEntry {
	t.Helper()
	trail, err := f.orch.AuditTrail(context.Background(), receiptID)
	if err != nil {
		t.Fatalf("AuditTrail failed: %v", err)
	}
	return trail
}

func TestNoticeFanOutCollectsFailures(t *testing.T) {
	f := newFixture(t, fakeRelay(t, false))
	ctx := context.Background()

	priv, err := nostr.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	receipt := &models.Receipt{
		RequestID:  "req-fanout",
		AmountSats: 90000,
		Currency:   "USD",
		Participants: []models.Participant{
			{Pubkey: f.friends[0], ShareSats: 45000},
			{Pubkey: f.friends[1], ShareSats: 45000},
		},
	}

	errs := f.orch.notifyParticipants(ctx, priv, receipt, "aa00", f.registry.WriteURLs())
	if len(errs) != len(receipt.Participants) {
		t.Errorf("collected %d errors, want one per participant (%d)", len(errs), len(receipt.Participants))
	}
	for _, err := range errs {
		if !errors.Is(err, relay.ErrNoRelaysAccepted) {
			t.Errorf("err = %v, want ErrNoRelaysAccepted", err)
		}
	}
}

func TestObserveZaps(t *testing.T) {
	f := newFixture(t, fakeRelay(t, true))
	ctx := context.Background()

	result, err := f.orch.CreateRequest(ctx, f.input())
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	requestEventID := result.Receipt.EventID

	var gotFilter nostr.Filter
	f.orch.WithQuery(func(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error) {
		gotFilter = filter
		return []*nostr.Event{
			{ID: "zap1", Kind: nostr.KindZapReceipt, Tags: [][]string{{"e", requestEventID}}},
			{ID: "zap1", Kind: nostr.KindZapReceipt, Tags: [][]string{{"e", requestEventID}}},
			{ID: "note", Kind: nostr.KindNote},
		}, nil
	})

	zaps, err := f.orch.ObserveZaps(ctx, result.Receipt.ID)
	if err != nil {
		t.Fatalf("ObserveZaps failed: %v", err)
	}
	if len(zaps) != 1 {
		t.Fatalf("zaps = %d, want 1 after dedup and kind filtering", len(zaps))
	}
	if zaps[0].ID != "zap1" {
		t.Errorf("zap id = %q", zaps[0].ID)
	}
	if len(gotFilter.Kinds) != 1 || gotFilter.Kinds[0] != nostr.KindZapReceipt {
		t.Errorf("filter kinds = %v", gotFilter.Kinds)
	}
	if len(gotFilter.ETags) != 1 || gotFilter.ETags[0] != requestEventID {
		t.Errorf("filter #e = %v, want the request event id", gotFilter.ETags)
	}
}

func TestObserveZapsUnpublished(t *testing.T) {
	f := newFixture(t, fakeRelay(t, false))
	ctx := context.Background()

	result, err := f.orch.CreateRequest(ctx, f.input())
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if _, err := f.orch.ObserveZaps(ctx, result.Receipt.ID); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest before publication", err)
	}
}

func TestWeightedShares(t *testing.T) {
	f := newFixture(t, fakeRelay(t, true))
	ctx := context.Background()

	in := f.input()
	in.Participants[0].Weight = 2
	in.Participants[1].Weight = 1

	result, err := f.orch.CreateRequest(ctx, in)
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	shares := result.Receipt.Participants
	if shares[0].ShareSats != 60000 || shares[1].ShareSats != 30000 {
		t.Errorf("shares = %d, %d; want 60000, 30000", shares[0].ShareSats, shares[1].ShareSats)
	}
}

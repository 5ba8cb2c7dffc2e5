package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satsplit/satsplit/internal/auth"
	"github.com/satsplit/satsplit/internal/contacts"
	"github.com/satsplit/satsplit/internal/models"
	"github.com/satsplit/satsplit/internal/nostr"
	"github.com/satsplit/satsplit/internal/rates"
	"github.com/satsplit/satsplit/internal/relay"
	"github.com/satsplit/satsplit/internal/service"
	"github.com/satsplit/satsplit/internal/storage/sqlite"
)

const testPassword = "open sesame"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func fakeRelay(t *testing.T) string {
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
			resp, _ := json.Marshal([]any{"OK", ev.ID, true, ""})
			conn.WriteMessage(websocket.TextMessage, resp)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fakeRateSource(t *testing.T, priceUSD float64) rates.Source {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"bitcoin":{"usd":%f}}`, priceUSD)
	}))
	t.Cleanup(srv.Close)

	sources := rates.DefaultSources()
	source := sources[0]
	source.URL = srv.URL
	return source
}

type testAPI struct {
	base   string
	client *http.Client
}

func newTestAPI(t *testing.T) *testAPI {
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

	registry := relay.NewRegistry(store)
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := registry.Replace(context.Background(), []models.Relay{
		{URL: fakeRelay(t), Read: true, Write: true},
	}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	provider := rates.NewProvider(rates.WithSources([]rates.Source{fakeRateSource(t, 50000)}))

	orch := service.NewOrchestrator(store, provider, registry, relay.NewPublisherWithTimeout(time.Second))
	keys := service.NewKeyService(store)
	directory := contacts.NewDirectory(registry.ReadURLs)
	sessions := auth.NewSessionManager(store, "test-session-secret", time.Minute)

	server := NewServer(orch, keys, provider, registry, directory, sessions)
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	return &testAPI{base: srv.URL, client: srv.Client()}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, a.base+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

// setup generates a key and opens a session, returning pubkey and token.
func (a *testAPI) setup(t *testing.T) (string, string) {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/api/keys/generate", "", map[string]string{"password": testPassword})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("generate key: status %d: %s", resp.StatusCode, body)
	}
	var key struct {
		Pubkey string `json:"pubkey"`
	}
	json.Unmarshal(body, &key)

	resp, body = a.do(t, http.MethodPost, "/api/session", "", map[string]string{
		"pubkey":   key.Pubkey,
		"password": testPassword,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session: status %d: %s", resp.StatusCode, body)
	}
	var session struct {
		Token string `json:"token"`
	}
	json.Unmarshal(body, &session)
	return key.Pubkey, session.Token
}

func friendPubkey(t *testing.T) string {
	t.Helper()
	priv, err := nostr.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return nostr.PublicKeyHex(priv)
}

func TestSessionWrongPassword(t *testing.T) {
	a := newTestAPI(t)
	pubkey, _ := a.setup(t)

	resp, _ := a.do(t, http.MethodPost, "/api/session", "", map[string]string{
		"pubkey":   pubkey,
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRequestsRequireSession(t *testing.T) {
	a := newTestAPI(t)

	resp, _ := a.do(t, http.MethodGet, "/api/requests", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", resp.StatusCode)
	}

	resp, _ = a.do(t, http.MethodGet, "/api/requests", "garbage-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status with bad token = %d, want 401", resp.StatusCode)
	}
}

func TestRequestLifecycle(t *testing.T) {
	a := newTestAPI(t)
	_, token := a.setup(t)
	payer := friendPubkey(t)

	create := map[string]any{
		"amountFiat": 20.0,
		"currency":   "USD",
		"mealType":   "Lunch",
		"flow":       "split",
		"participants": []map[string]any{
			{"pubkey": payer},
			{"pubkey": friendPubkey(t)},
		},
		"password": testPassword,
	}
	resp, body := a.do(t, http.MethodPost, "/api/requests", token, create)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Receipt models.Receipt `json:"receipt"`
		Publish struct {
			Success bool `json:"success"`
		} `json:"publish"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if !result.Publish.Success {
		t.Fatal("publish.success = false")
	}
	if result.Receipt.SyncStatus != models.SyncPublished {
		t.Errorf("syncStatus = %q, want published", result.Receipt.SyncStatus)
	}
	// 20 USD at 50,000 USD/BTC is 40,000 sats.
	if result.Receipt.AmountSats != 40000 {
		t.Errorf("amountSats = %d, want 40000", result.Receipt.AmountSats)
	}

	resp, body = a.do(t, http.MethodGet, "/api/requests", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	var list []models.Receipt
	json.Unmarshal(body, &list)
	if len(list) != 1 {
		t.Errorf("list = %d receipts, want 1", len(list))
	}

	id := result.Receipt.ID
	resp, _ = a.do(t, http.MethodGet, "/api/requests/"+id, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get: status %d, want 200", resp.StatusCode)
	}
	resp, _ = a.do(t, http.MethodGet, "/api/requests/nope", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get unknown: status %d, want 404", resp.StatusCode)
	}

	resp, body = a.do(t, http.MethodPost, "/api/requests/"+id+"/paid", token, map[string]any{
		"pubkey":   payer,
		"paidSats": 20000,
		"method":   "zap",
		"password": testPassword,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("paid: status %d: %s", resp.StatusCode, body)
	}
	var receipt models.Receipt
	json.Unmarshal(body, &receipt)
	i := receipt.FindParticipant(payer)
	if i < 0 || receipt.Participants[i].Status() != models.StatusPaid {
		t.Errorf("participants = %+v, want payer marked paid", receipt.Participants)
	}

	resp, body = a.do(t, http.MethodGet, "/api/requests/"+id+"/audit", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit: status %d", resp.StatusCode)
	}
	var trail []models.AuditEntry
	json.Unmarshal(body, &trail)
	if len(trail) != 3 {
		t.Errorf("audit entries = %d, want create + publish + mark_paid", len(trail))
	}
}

func TestRates(t *testing.T) {
	a := newTestAPI(t)

	resp, body := a.do(t, http.MethodGet, "/api/rates/usd", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var rate models.ExchangeRate
	json.Unmarshal(body, &rate)
	if rate.SatsPerUnit != 2000 {
		t.Errorf("satsPerUnit = %d, want 2000 at 50,000 USD/BTC", rate.SatsPerUnit)
	}

	resp, _ = a.do(t, http.MethodGet, "/api/rates/JPY", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unsupported currency: status %d, want 400", resp.StatusCode)
	}
}

func TestRelaysEndpoint(t *testing.T) {
	a := newTestAPI(t)
	_, token := a.setup(t)

	resp, body := a.do(t, http.MethodGet, "/api/relays", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get relays: status %d", resp.StatusCode)
	}
	var relays []models.Relay
	json.Unmarshal(body, &relays)
	if len(relays) != 1 {
		t.Errorf("relays = %d, want the fixture relay", len(relays))
	}

	resp, _ = a.do(t, http.MethodPut, "/api/relays", "", map[string]any{
		"relays": []models.Relay{{URL: "wss://new.example", Read: true, Write: true}},
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("put without session: status %d, want 401", resp.StatusCode)
	}

	resp, body = a.do(t, http.MethodPut, "/api/relays", token, map[string]any{
		"relays": []models.Relay{{URL: "wss://new.example", Read: true, Write: true}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put relays: status %d: %s", resp.StatusCode, body)
	}
	json.Unmarshal(body, &relays)
	if len(relays) != 1 || relays[0].URL != "wss://new.example" {
		t.Errorf("relays after put = %+v", relays)
	}
}

func TestImportKey(t *testing.T) {
	a := newTestAPI(t)

	priv, err := nostr.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	resp, body := a.do(t, http.MethodPost, "/api/keys/import", "", map[string]string{
		"secretHex": nostr.SecretHex(priv),
		"password":  testPassword,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("import: status %d: %s", resp.StatusCode, body)
	}
	var key keyResponse
	json.Unmarshal(body, &key)
	if key.Pubkey != nostr.PublicKeyHex(priv) {
		t.Errorf("pubkey = %q, want %q", key.Pubkey, nostr.PublicKeyHex(priv))
	}

	resp, _ = a.do(t, http.MethodPost, "/api/keys/import", "", map[string]string{
		"secretHex": "zz",
		"password":  testPassword,
	})
	if resp.StatusCode == http.StatusCreated {
		t.Error("import of malformed secret succeeded")
	}
}

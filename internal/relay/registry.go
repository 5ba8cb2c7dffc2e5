package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/satsplit/satsplit/internal/models"
	"github.com/satsplit/satsplit/internal/nostr"
)

// MaxRelays caps the working set after merging a user's published list.
const MaxRelays = 10

// DefaultRelays seeds the working set until a user list overrides it.
func DefaultRelays() []models.Relay {
	return []models.Relay{
		{URL: "wss://relay.damus.io", Read: true, Write: true},
		{URL: "wss://nos.lol", Read: true, Write: true},
		{URL: "wss://relay.nostr.band", Read: true, Write: true},
		{URL: "wss://nostr.wine", Read: true, Write: true},
		{URL: "wss://relay.snort.social", Read: true, Write: true},
	}
}

// SettingsStore is the slice of persistence the registry needs.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
	SaveSettings(ctx context.Context, settings *models.Settings) error
}

// queryFunc matches Query; injectable for tests.
type queryFunc func(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error)

// Registry owns the ordered, deduplicated working relay set. Reads are safe
// from any goroutine; Discover and Replace serialize writes internally.
type Registry struct {
	store SettingsStore
	query queryFunc

	mu     sync.RWMutex
	relays []models.Relay
}

// NewRegistry creates a registry backed by the given settings store.
func NewRegistry(store SettingsStore) *Registry {
	return &Registry{store: store, query: Query, relays: DefaultRelays()}
}

// WithQuery overrides the relay query function (tests).
func (r *Registry) WithQuery(q queryFunc) *Registry {
	r.query = q
	return r
}

// Load seeds the working set: the persisted user list when present,
// otherwise the defaults.
func (r *Registry) Load(ctx context.Context) error {
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if settings != nil && len(settings.Relays) > 0 {
		r.relays = dedupe(settings.Relays)
	} else {
		r.relays = DefaultRelays()
	}
	return nil
}

// Relays returns a copy of the working set.
func (r *Registry) Relays() []models.Relay {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Relay, len(r.relays))
	copy(out, r.relays)
	return out
}

// WriteURLs returns the publish targets in order.
func (r *Registry) WriteURLs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var urls []string
	for _, relay := range r.relays {
		if relay.Write {
			urls = append(urls, relay.URL)
		}
	}
	return urls
}

// ReadURLs returns the queryable relays in order.
func (r *Registry) ReadURLs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var urls []string
	for _, relay := range r.relays {
		if relay.Read {
			urls = append(urls, relay.URL)
		}
	}
	return urls
}

// Replace swaps the working set for a caller-supplied list (deduplicated,
// capped) and persists it.
func (r *Registry) Replace(ctx context.Context, relays []models.Relay) error {
	cleaned := dedupe(relays)
	if len(cleaned) == 0 {
		return fmt.Errorf("relay list cannot be empty")
	}
	if len(cleaned) > MaxRelays {
		cleaned = cleaned[:MaxRelays]
	}

	r.mu.Lock()
	r.relays = cleaned
	r.mu.Unlock()

	return r.persist(ctx)
}

// Discover queries each write relay in order for the user's self-published
// relay-list event (kind 10002). The first relay that returns entries wins:
// its URLs are merged into the working set (deduplicated by URL, appended,
// capped at MaxRelays) and persisted. Failures are swallowed — absence of a
// remote list is not an error, the defaults remain valid.
func (r *Registry) Discover(ctx context.Context, userPubkey string) {
	filter := nostr.Filter{
		Kinds:   []int{nostr.KindRelayList},
		Authors: []string{userPubkey},
		Limit:   1,
	}

	for _, url := range r.WriteURLs() {
		evs, err := r.query(ctx, url, filter)
		if err != nil {
			slog.Warn("relay list query failed", "relay", url, "error", err)
			continue
		}
		if len(evs) == 0 {
			continue
		}

		found := parseRelayList(evs[0])
		if len(found) == 0 {
			continue
		}

		r.merge(found)
		if err := r.persist(ctx); err != nil {
			slog.Warn("failed to persist discovered relays", "error", err)
		}
		slog.Info("merged user relay list", "relay", url, "entries", len(found))
		return
	}
}

// parseRelayList extracts relays from a kind-10002 event's r tags. A third
// tag element restricts the relay to read or write; absent means both.
func parseRelayList(ev *nostr.Event) []models.Relay {
	var relays []models.Relay
	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] != "r" || tag[1] == "" {
			continue
		}
		marker := ""
		if len(tag) >= 3 {
			marker = tag[2]
		}
		relays = append(relays, models.Relay{
			URL:   tag[1],
			Read:  marker == "" || marker == "read",
			Write: marker == "" || marker == "write",
		})
	}
	return relays
}

func (r *Registry) merge(found []models.Relay) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(r.relays))
	for _, relay := range r.relays {
		seen[relay.URL] = true
	}
	for _, relay := range found {
		if seen[relay.URL] {
			continue
		}
		seen[relay.URL] = true
		r.relays = append(r.relays, relay)
	}
	if len(r.relays) > MaxRelays {
		r.relays = r.relays[:MaxRelays]
	}
}

func (r *Registry) persist(ctx context.Context) error {
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if settings == nil {
		settings = &models.Settings{}
	}
	settings.Relays = r.Relays()
	if err := r.store.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func dedupe(relays []models.Relay) []models.Relay {
	seen := make(map[string]bool, len(relays))
	var out []models.Relay
	for _, relay := range relays {
		if relay.URL == "" || seen[relay.URL] {
			continue
		}
		seen[relay.URL] = true
		out = append(out, relay)
	}
	return out
}

// Package contacts resolves participant identifiers to displayable
// profiles, pulling follow lists and profile events from relays on demand.
// Purely a lookup cache; never part of the signing path.
package contacts

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/satsplit/satsplit/internal/models"
	"github.com/satsplit/satsplit/internal/nostr"
	"github.com/satsplit/satsplit/internal/relay"
)

type queryFunc func(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error)

// Directory caches profile lookups keyed by pubkey.
type Directory struct {
	readURLs func() []string
	query    queryFunc

	mu       sync.RWMutex
	profiles map[string]models.Profile
	follows  map[string]bool
}

// NewDirectory creates a directory that queries the relays returned by
// readURLs, in order, first success wins.
func NewDirectory(readURLs func() []string) *Directory {
	return &Directory{
		readURLs: readURLs,
		query:    relay.Query,
		profiles: make(map[string]models.Profile),
		follows:  make(map[string]bool),
	}
}

// WithQuery overrides the relay query function (tests).
func (d *Directory) WithQuery(q queryFunc) *Directory {
	d.query = q
	return d
}

// LoadFollows fetches the user's follow list (kind 3) from the first relay
// that has it and remembers the followed pubkeys. Failures degrade to an
// empty list.
func (d *Directory) LoadFollows(ctx context.Context, userPubkey string) []string {
	filter := nostr.Filter{
		Kinds:   []int{nostr.KindFollows},
		Authors: []string{userPubkey},
		Limit:   1,
	}

	for _, url := range d.readURLs() {
		evs, err := d.query(ctx, url, filter)
		if err != nil {
			slog.Warn("follow list query failed", "relay", url, "error", err)
			continue
		}
		if len(evs) == 0 {
			continue
		}

		var follows []string
		for _, tag := range evs[0].Tags {
			if len(tag) >= 2 && tag[0] == "p" && tag[1] != "" {
				follows = append(follows, tag[1])
			}
		}

		d.mu.Lock()
		for _, pk := range follows {
			d.follows[pk] = true
		}
		d.mu.Unlock()
		return follows
	}
	return nil
}

// Resolve returns the displayable profile for a pubkey, from cache when
// present, otherwise from the first relay carrying a kind-0 event. Unknown
// pubkeys resolve to a bare profile rather than an error: a raw key is
// always displayable.
func (d *Directory) Resolve(ctx context.Context, pubkey string) models.Profile {
	d.mu.RLock()
	cached, ok := d.profiles[pubkey]
	d.mu.RUnlock()
	if ok {
		return cached
	}

	filter := nostr.Filter{
		Kinds:   []int{nostr.KindProfile},
		Authors: []string{pubkey},
		Limit:   1,
	}

	for _, url := range d.readURLs() {
		evs, err := d.query(ctx, url, filter)
		if err != nil {
			slog.Warn("profile query failed", "relay", url, "error", err)
			continue
		}
		if len(evs) == 0 {
			continue
		}
		profile, err := parseProfile(evs[0])
		if err != nil {
			slog.Warn("malformed profile event", "pubkey", pubkey, "error", err)
			continue
		}

		d.mu.Lock()
		d.profiles[pubkey] = profile
		d.mu.Unlock()
		return profile
	}

	return models.Profile{Pubkey: pubkey}
}

// IsFollowing reports whether the pubkey appeared in the loaded follow
// list.
func (d *Directory) IsFollowing(pubkey string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.follows[pubkey]
}

// AddManual records a manually entered contact in the cache.
func (d *Directory) AddManual(profile models.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[profile.Pubkey] = profile
}

func parseProfile(ev *nostr.Event) (models.Profile, error) {
	var content struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Picture     string `json:"picture"`
		About       string `json:"about"`
		Nip05       string `json:"nip05"`
	}
	if err := json.Unmarshal([]byte(ev.Content), &content); err != nil {
		return models.Profile{}, err
	}
	return models.Profile{
		Pubkey:      ev.Pubkey,
		Name:        content.Name,
		DisplayName: content.DisplayName,
		Picture:     content.Picture,
		About:       content.About,
		Nip05:       content.Nip05,
	}, nil
}

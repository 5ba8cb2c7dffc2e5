package contacts

import (
	"context"
	"fmt"
	"testing"

	"github.com/satsplit/satsplit/internal/models"
	"github.com/satsplit/satsplit/internal/nostr"
)

func modelsProfile(pubkey, name string) models.Profile {
	return models.Profile{Pubkey: pubkey, Name: name}
}

func twoRelays() func() []string {
	return func() []string { return []string{"wss://a.example", "wss://b.example"} }
}

func TestResolveCachesProfile(t *testing.T) {
	queries := 0
	d := NewDirectory(twoRelays()).WithQuery(func(ctx context.Context, url string, f nostr.Filter) ([]*nostr.Event, error) {
		queries++
		return []*nostr.Event{{
			Pubkey:  "pk1",
			Kind:    nostr.KindProfile,
			Content: `{"name":"alice","display_name":"Alice","nip05":"alice@example.com"}`,
		}}, nil
	})

	p := d.Resolve(context.Background(), "pk1")
	if p.Name != "alice" || p.DisplayName != "Alice" {
		t.Errorf("profile = %+v", p)
	}

	d.Resolve(context.Background(), "pk1")
	if queries != 1 {
		t.Errorf("queries = %d, want 1 (second hit from cache)", queries)
	}
}

func TestResolveFallsBackToBareProfile(t *testing.T) {
	d := NewDirectory(twoRelays()).WithQuery(func(ctx context.Context, url string, f nostr.Filter) ([]*nostr.Event, error) {
		return nil, fmt.Errorf("unreachable")
	})

	p := d.Resolve(context.Background(), "rawkey")
	if p.Pubkey != "rawkey" || p.Name != "" {
		t.Errorf("profile = %+v, want bare pubkey", p)
	}
}

func TestResolveTriesNextRelay(t *testing.T) {
	var queried []string
	d := NewDirectory(twoRelays()).WithQuery(func(ctx context.Context, url string, f nostr.Filter) ([]*nostr.Event, error) {
		queried = append(queried, url)
		if len(queried) == 1 {
			return nil, fmt.Errorf("down")
		}
		return []*nostr.Event{{Pubkey: "pk1", Content: `{"name":"bob"}`}}, nil
	})

	p := d.Resolve(context.Background(), "pk1")
	if p.Name != "bob" {
		t.Errorf("profile = %+v", p)
	}
	if len(queried) != 2 {
		t.Errorf("queried %d relays, want 2", len(queried))
	}
}

func TestLoadFollows(t *testing.T) {
	d := NewDirectory(twoRelays()).WithQuery(func(ctx context.Context, url string, f nostr.Filter) ([]*nostr.Event, error) {
		return []*nostr.Event{{
			Kind: nostr.KindFollows,
			Tags: [][]string{{"p", "pk1"}, {"p", "pk2"}, {"e", "not-a-person"}},
		}}, nil
	})

	follows := d.LoadFollows(context.Background(), "me")
	if len(follows) != 2 {
		t.Fatalf("follows = %v, want 2 entries", follows)
	}
	if !d.IsFollowing("pk1") || !d.IsFollowing("pk2") {
		t.Error("follow set not recorded")
	}
	if d.IsFollowing("pk3") {
		t.Error("IsFollowing(pk3) = true")
	}
}

func TestAddManual(t *testing.T) {
	d := NewDirectory(func() []string { return nil })
	d.AddManual(modelsProfile("pk9", "carol"))
	p := d.Resolve(context.Background(), "pk9")
	if p.Name != "carol" {
		t.Errorf("profile = %+v, want manual entry", p)
	}
}

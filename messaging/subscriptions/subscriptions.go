package subscriptions

import (
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/exp/slices"

	"poap/engine/library"
)

// Storage is the slice of the persistence collaborator this manager needs:
// the author set and the per-kind-family resume cursors. Cursors are re-read
// on every resubscribe, never cached here.
type Storage interface {
	GetIssuerPublicKeys() ([]library.Account, error)
	LastBadgeTimestamp() (int64, error)
	LastAwardTimestamp() (int64, error)
}

// RelayClient is the slice of the relay client this manager drives.
type RelayClient interface {
	Subscribe(label string, filters nostr.Filters) string
	Unsubscribe(subscriptionID string)
	RegisterIssuersSubscription(id string) string
	IssuersSubscription() string
}

// Manager builds relay filters for badges, awards and direct messages and
// owns the resubscribe cycle for the long lived issuers subscription.
type Manager struct {
	client RelayClient
	store  Storage

	// ResubscribeDelay lets a CLOSE propagate at the relay before the
	// replacement REQ goes out.
	ResubscribeDelay time.Duration
}

func NewManager(client RelayClient, store Storage) *Manager {
	return &Manager{
		client:           client,
		store:            store,
		ResubscribeDelay: time.Second,
	}
}

// BuildFilters produces one filter per kind family: badge definitions and
// awards constrained to the issuer author set, direct messages constrained to
// the issuer recipient tag. A non-zero cursor becomes since = cursor+1 or we
// get the last seen event again; note this can skip an event that shares its
// timestamp with the last seen one.
func BuildFilters(publicKeys []library.Account, badgeSince, awardSince, dmSince int64) nostr.Filters {
	authors := dedupe(publicKeys)

	badgeFilter := nostr.Filter{
		Kinds:   []int{library.KindBadgeDefinition},
		Authors: authors,
	}
	applySince(&badgeFilter, badgeSince)

	awardFilter := nostr.Filter{
		Kinds:   []int{library.KindBadgeAward},
		Authors: authors,
	}
	applySince(&awardFilter, awardSince)

	dmFilter := nostr.Filter{
		Kinds: []int{library.KindEncryptedDM},
		Tags:  nostr.TagMap{"p": authors},
	}
	applySince(&dmFilter, dmSince)

	return nostr.Filters{badgeFilter, awardFilter, dmFilter}
}

func applySince(f *nostr.Filter, cursor int64) {
	if cursor == 0 {
		return
	}
	since := nostr.Timestamp(cursor + 1)
	f.Since = &since
}

func dedupe(keys []library.Account) []library.Account {
	out := make([]library.Account, 0, len(keys))
	for _, k := range keys {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

// SubscribeAll loads the issuer author set and the last seen timestamps from
// storage and opens the issuers subscription, replacing any prior one with
// the same role. The old subscription is closed first so the relay never
// double delivers.
func (m *Manager) SubscribeAll() error {
	if previous := m.client.IssuersSubscription(); previous != "" {
		m.client.Unsubscribe(previous)
		time.Sleep(m.ResubscribeDelay)
	}

	publicKeys, err := m.store.GetIssuerPublicKeys()
	if err != nil {
		return fmt.Errorf("load issuer public keys: %w", err)
	}
	badgeTime, err := m.store.LastBadgeTimestamp()
	if err != nil {
		return fmt.Errorf("load badge cursor: %w", err)
	}
	awardTime, err := m.store.LastAwardTimestamp()
	if err != nil {
		return fmt.Errorf("load award cursor: %w", err)
	}
	// direct messages share the award cursor: an answered claim always
	// produces an award with a fresher timestamp than its message
	dmTime := awardTime

	library.LogCLI(fmt.Sprintf("Timestamps: badges %d, awards %d", badgeTime, awardTime), 3)

	filters := BuildFilters(publicKeys, badgeTime, awardTime, dmTime)
	id := m.client.Subscribe("poap", filters)
	m.client.RegisterIssuersSubscription(id)
	library.LogCLI(fmt.Sprintf("Subscribed to events for %d keys. New subscription id: %s", len(publicKeys), id), 3)
	return nil
}

// TemporarySubscribe opens a short lived subscription scoped to a single
// issuer, used right after creating or updating one to pick up confirmations
// quickly. Closure is a one shot deferred action.
func (m *Manager) TemporarySubscribe(publicKey library.Account, duration time.Duration) string {
	filters := BuildFilters([]library.Account{publicKey}, 0, 0, 0)
	id := m.client.Subscribe("issuer", filters)
	library.LogCLI(fmt.Sprintf("New issuer temp subscription (%s). Subscription id: %s", duration, id), 3)
	time.AfterFunc(duration, func() {
		m.client.Unsubscribe(id)
	})
	return id
}

// ProfileTempSubscribe peeks at a user's kind 30008 profile badges list for a
// short while, e.g. to show what a claimant already wears.
func (m *Manager) ProfileTempSubscribe(publicKey library.Account, duration time.Duration) string {
	filters := nostr.Filters{{
		Kinds:   []int{library.KindProfileBadges},
		Authors: []library.Account{publicKey},
	}}
	id := m.client.Subscribe("profile", filters)
	library.LogCLI(fmt.Sprintf("New user temp subscription (%s). Subscription id: %s", duration, id), 3)
	time.AfterFunc(duration, func() {
		m.client.Unsubscribe(id)
	})
	return id
}

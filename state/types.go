package state

import (
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"poap/engine/library"
)

// Issuer owns exactly one keypair. The private key is only ever handed to the
// crypto helpers, never logged and never serialized outward.
type Issuer struct {
	ID         string          `gorm:"primaryKey" json:"id"`
	UserID     string          `gorm:"uniqueIndex" json:"user_id"`
	PrivateKey string          `json:"-"`
	PublicKey  library.Account `gorm:"uniqueIndex" json:"public_key"`
	Meta       string          `json:"meta"`
}

// Badge is the local projection of a kind 30009 parameterized replaceable
// event. (issuer public key, badge id) is the logical primary key on the
// relay; EventCreatedAt is the high water mark used to resume subscriptions.
type Badge struct {
	ID             string `gorm:"primaryKey" json:"id"`
	IssuerID       string `gorm:"index" json:"issuer_id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Image          string `json:"image"`
	Thumb          string `json:"thumb"`
	Geohash        string `json:"geohash"`
	EventID        library.Sha256 `json:"event_id"`
	EventCreatedAt int64          `json:"event_created_at"`
}

// Award is a one time grant of a badge to a claimant key. At most one award
// may ever exist per (BadgeID, ClaimPubkey); the unique index backs the checks
// done on both claim paths.
type Award struct {
	ID             string          `gorm:"primaryKey" json:"id"`
	BadgeID        string          `gorm:"uniqueIndex:idx_award_badge_claim" json:"badge_id"`
	IssuerID       string          `gorm:"index" json:"issuer_id"`
	ClaimPubkey    library.Account `gorm:"uniqueIndex:idx_award_badge_claim" json:"claim_pubkey"`
	EventID        library.Sha256  `json:"event_id"`
	EventCreatedAt int64           `json:"event_created_at"`
}

// Nostrable is the capability of being published to the relay on behalf of an
// issuer. Implemented by Badge and Award only.
type Nostrable interface {
	ToNostrEvent(issuerPubkey library.Account) nostr.Event
	ToNostrDeleteEvent(issuerPubkey library.Account) nostr.Event
}

// BadgeAddress is the "a" tag coordinate of a badge definition event.
func BadgeAddress(issuerPubkey library.Account, badgeID string) string {
	return fmt.Sprintf("%d:%s:%s", library.KindBadgeDefinition, issuerPubkey, badgeID)
}

func (b Badge) ToNostrEvent(issuerPubkey library.Account) nostr.Event {
	tags := nostr.Tags{
		nostr.Tag{"d", b.ID},
		nostr.Tag{"name", b.Name},
		nostr.Tag{"description", b.Description},
		nostr.Tag{"image", b.Image},
	}
	if b.Thumb != "" {
		tags = append(tags, nostr.Tag{"thumb", b.Thumb})
	}
	if b.Geohash != "" {
		tags = append(tags, nostr.Tag{"g", b.Geohash})
	}
	return nostr.Event{
		PubKey:    issuerPubkey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      library.KindBadgeDefinition,
		Tags:      tags,
	}
}

func (b Badge) ToNostrDeleteEvent(issuerPubkey library.Account) nostr.Event {
	return nostr.Event{
		PubKey:    issuerPubkey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      library.KindDeletion,
		Tags:      nostr.Tags{nostr.Tag{"a", BadgeAddress(issuerPubkey, b.ID)}},
		Content:   "badge deleted",
	}
}

func (a Award) ToNostrEvent(issuerPubkey library.Account) nostr.Event {
	return nostr.Event{
		PubKey:    issuerPubkey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      library.KindBadgeAward,
		Tags: nostr.Tags{
			nostr.Tag{"a", BadgeAddress(issuerPubkey, a.BadgeID)},
			nostr.Tag{"p", a.ClaimPubkey},
		},
		Content: a.ID,
	}
}

func (a Award) ToNostrDeleteEvent(issuerPubkey library.Account) nostr.Event {
	return nostr.Event{
		PubKey:    issuerPubkey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      library.KindDeletion,
		Tags:      nostr.Tags{nostr.Tag{"e", a.EventID}},
		Content:   "award deleted",
	}
}

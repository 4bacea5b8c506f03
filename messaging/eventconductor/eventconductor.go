package eventconductor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"

	"poap/engine/library"
	"poap/messaging/relays"
	"poap/state"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrUnknownIssuer means an inbound event's author (or recipient) is not
	// one of our issuers. Noise, not a fault.
	ErrUnknownIssuer = errors.New("issuer not found")
	// ErrUnknownBadge means a claim referenced a badge we do not have.
	ErrUnknownBadge = errors.New("badge not found")
	// ErrDuplicateClaim means the (badge, claimant) pair already has an award.
	ErrDuplicateClaim = errors.New("badge was already awarded to this pubkey")
	// ErrProximityRejected means a location bound claim came from too far away.
	ErrProximityRejected = errors.New("seems that you are not in the right place")
)

// RelayClient is the slice of the relay client the conductor consumes.
type RelayClient interface {
	Publish(event nostr.Event)
	NextEvent() (nostr.Event, error)
}

// Subscriber rebuilds the issuers subscription after a connection reset.
type Subscriber interface {
	SubscribeAll() error
}

// Conductor consumes decoded relay events one at a time and routes them by
// kind: badge imports, award imports, and encrypted claim messages. It owns no
// durable state; everything is persisted through the store.
type Conductor struct {
	client RelayClient
	subs   Subscriber
	store  *state.Store

	// ProximityThresholdMeters gates location bound claims. Flagged as
	// possibly too generous, so it is a knob rather than a constant.
	ProximityThresholdMeters float64
	// ResubscribeWait paces the retry after NextEvent reports a reset.
	ResubscribeWait time.Duration
}

func NewConductor(client RelayClient, subs Subscriber, store *state.Store) *Conductor {
	return &Conductor{
		client:                   client,
		subs:                     subs,
		store:                    store,
		ProximityThresholdMeters: library.DefaultProximityThresholdMeters,
		ResubscribeWait:          10 * time.Second,
	}
}

// Run is the read loop. It only terminates on explicit shutdown; any error
// from NextEvent means the connection (and the relay side subscription state)
// was reset, so it resubscribes before reading again. A failure while
// processing one event never stops the loop.
func (c *Conductor) Run() {
	if err := c.subs.SubscribeAll(); err != nil {
		library.LogCLI(err.Error(), 2)
	}
	for {
		event, err := c.client.NextEvent()
		if err != nil {
			if errors.Is(err, relays.ErrStopped) {
				library.LogCLI("Event conductor has shut down", 4)
				return
			}
			library.LogCLI(fmt.Sprintf("Subscription failed, will retry: %s", err), 2)
			time.Sleep(c.ResubscribeWait)
			if err := c.subs.SubscribeAll(); err != nil {
				library.LogCLI(err.Error(), 2)
			}
			continue
		}
		c.handleEvent(event)
	}
}

// handleEvent routes one event and contains any failure to it.
func (c *Conductor) handleEvent(e nostr.Event) {
	var err error
	switch e.Kind {
	case library.KindEncryptedDM:
		err = c.handleDirectMessage(e)
	case library.KindBadgeDefinition:
		err = c.handleBadgeDefinition(e)
	case library.KindBadgeAward:
		err = c.handleAward(e)
	default:
		library.LogCLI(fmt.Sprintf("no handler for kind %d, ignoring event %s", e.Kind, e.ID), 3)
		return
	}
	if err != nil {
		level := 3
		if errors.Is(err, ErrUnknownIssuer) {
			level = 2
		}
		library.LogCLI(fmt.Sprintf("dropped event %s: %s", e.ID, err), level)
	}
}

// handleBadgeDefinition imports a kind 30009 badge authored by one of our
// issuers. Unknown authors are noise; a definition without a d tag or an
// image is not a badge we can use.
func (c *Conductor) handleBadgeDefinition(e nostr.Event) error {
	issuer, err := c.store.GetIssuerByPublicKey(e.PubKey)
	if err != nil {
		return err
	}
	if issuer == nil {
		return fmt.Errorf("%w for public key '%s'", ErrUnknownIssuer, e.PubKey)
	}

	d := library.TagValues(e, "d")
	image := library.TagValues(e, "image")
	if len(d) == 0 || d[0] == "" || len(image) == 0 || image[0] == "" {
		library.LogCLI("badge definition without d or image tag, ignoring "+e.ID, 3)
		return nil
	}

	badge := state.Badge{
		ID:             d[0],
		IssuerID:       issuer.ID,
		Name:           "Imported POAP",
		Image:          image[0],
		EventID:        e.ID,
		EventCreatedAt: int64(e.CreatedAt),
	}
	if name := library.TagValues(e, "name"); len(name) > 0 {
		badge.Name = name[0]
	}
	if description := library.TagValues(e, "description"); len(description) > 0 {
		badge.Description = description[0]
	}
	if thumb := library.TagValues(e, "thumb"); len(thumb) > 0 {
		badge.Thumb = thumb[0]
	}
	if gh := library.TagValues(e, "g"); len(gh) > 0 {
		badge.Geohash = gh[0]
	}

	library.LogCLI(fmt.Sprintf("Upserting badge %s for issuer %s", badge.ID, issuer.ID), 3)
	return c.store.UpsertBadge(badge)
}

// handleAward imports a kind 8 award event, including the echo of our own
// publishes. The one-award-per-claimant invariant is checked again here to
// tolerate duplicate delivery.
func (c *Conductor) handleAward(e nostr.Event) error {
	issuer, err := c.store.GetIssuerByPublicKey(e.PubKey)
	if err != nil {
		return err
	}
	if issuer == nil {
		return fmt.Errorf("%w for public key '%s'", ErrUnknownIssuer, e.PubKey)
	}

	address := library.TagValues(e, "a")
	if len(address) == 0 {
		return fmt.Errorf("'a' tag not found on event")
	}
	// address is <kind>:<issuer pubkey>:<badge id>
	parts := strings.Split(address[0], ":")
	if len(parts) < 3 || parts[2] == "" {
		return fmt.Errorf("malformed 'a' tag %q", address[0])
	}
	badgeID := parts[2]

	claimPubkey := library.TagValues(e, "p")
	if len(claimPubkey) == 0 || claimPubkey[0] == "" {
		return fmt.Errorf("'p' tag not found on event")
	}

	award := state.Award{
		ID:             e.Content,
		BadgeID:        badgeID,
		IssuerID:       issuer.ID,
		ClaimPubkey:    claimPubkey[0],
		EventID:        e.ID,
		EventCreatedAt: int64(e.CreatedAt),
	}
	_, err = c.store.CreateAward(award)
	if errors.Is(err, state.ErrAwardExists) {
		library.LogCLI(fmt.Sprintf("award for badge %s and pubkey %s already recorded", badgeID, claimPubkey[0]), 3)
		return nil
	}
	return err
}

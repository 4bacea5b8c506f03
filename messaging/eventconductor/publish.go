package eventconductor

import (
	"encoding/hex"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"poap/engine/library"
	"poap/state"
)

// PublishAuthoredEvent turns a locally authored entity into its relay event,
// signs the digest with the issuer's key and enqueues it for publishing. The
// returned event carries the canonical id and timestamp the caller should
// persist.
func (c *Conductor) PublishAuthoredEvent(issuer *state.Issuer, n state.Nostrable) (nostr.Event, error) {
	return c.signAndSend(issuer, n.ToNostrEvent(issuer.PublicKey))
}

// DeleteFromNostr publishes the kind 5 deletion event for an entity.
func (c *Conductor) DeleteFromNostr(issuer *state.Issuer, n state.Nostrable) (nostr.Event, error) {
	return c.signAndSend(issuer, n.ToNostrDeleteEvent(issuer.PublicKey))
}

func (c *Conductor) signAndSend(issuer *state.Issuer, event nostr.Event) (nostr.Event, error) {
	event.ID = event.GetID()
	digest, err := hex.DecodeString(event.ID)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("decode event id: %w", err)
	}
	sig, err := library.SignEventDigest(issuer.PrivateKey, digest)
	if err != nil {
		return nostr.Event{}, err
	}
	event.Sig = sig
	c.client.Publish(event)
	return event, nil
}

// UpdateIssuerOnNostr republishes every badge the issuer owns, refreshing the
// replaceable events after issuer metadata changed, and persists the new
// event cursors.
func (c *Conductor) UpdateIssuerOnNostr(issuer *state.Issuer) error {
	badges, err := c.store.GetBadges(issuer.ID)
	if err != nil {
		return err
	}
	for _, badge := range badges {
		event, err := c.PublishAuthoredEvent(issuer, badge)
		if err != nil {
			return fmt.Errorf("republish badge %s: %w", badge.ID, err)
		}
		badge.EventID = event.ID
		badge.EventCreatedAt = int64(event.CreatedAt)
		if err := c.store.UpdateBadge(badge); err != nil {
			return err
		}
	}
	return nil
}

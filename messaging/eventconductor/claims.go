package eventconductor

import (
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"poap/engine/library"
	"poap/state"
)

// ClaimRequest is the plaintext of a claim direct message.
type ClaimRequest struct {
	Type    string   `json:"type"`
	BadgeID string   `json:"badge_id"`
	Lat     *float64 `json:"lat"`
	Long    *float64 `json:"long"`
}

// handleDirectMessage decrypts a kind 4 message addressed to one of our
// issuers and, when it carries a claim request, runs the claim state machine:
// idempotency check, proximity check, award creation, signing, publish,
// persistence update. Any failure drops the message; nothing here may take
// the read loop down.
func (c *Conductor) handleDirectMessage(e nostr.Event) error {
	recipients := library.TagValues(e, "p")
	if len(recipients) == 0 {
		return fmt.Errorf("direct message without 'p' tag")
	}
	issuer, err := c.store.GetIssuerByPublicKey(recipients[0])
	if err != nil {
		return err
	}
	if issuer == nil {
		return fmt.Errorf("%w for public key '%s'", ErrUnknownIssuer, recipients[0])
	}
	library.LogCLI("Handling NIP04 event: "+e.ID, 3)

	secret, err := library.SharedSecret(issuer.PrivateKey, e.PubKey)
	if err != nil {
		return err
	}
	plaintext, err := library.DecryptDM(e.Content, secret)
	if err != nil {
		return err
	}

	var claim ClaimRequest
	if err := json.Unmarshal([]byte(plaintext), &claim); err != nil || claim.Type != "claim_poap" {
		// not a claim, just someone talking to the issuer
		library.LogCLI(fmt.Sprintf("Message: %.200s", plaintext), 3)
		return nil
	}
	return c.processClaim(issuer, e.PubKey, claim)
}

// processClaim grants a badge to a claimant key, subject to the duplicate and
// proximity gates.
func (c *Conductor) processClaim(issuer *state.Issuer, claimant library.Account, claim ClaimRequest) error {
	badge, err := c.store.GetBadge(claim.BadgeID)
	if err != nil {
		return err
	}
	if badge == nil {
		return fmt.Errorf("%w: '%s'", ErrUnknownBadge, claim.BadgeID)
	}

	alreadyAwarded, err := c.store.AwardExists(badge.ID, claimant)
	if err != nil {
		return err
	}
	if alreadyAwarded {
		return ErrDuplicateClaim
	}

	if badge.Geohash != "" {
		if err := c.checkProximity(badge.Geohash, claim); err != nil {
			return err
		}
	}

	library.LogCLI(fmt.Sprintf("Creating award for badge %s and pubkey %s", badge.ID, claimant), 3)
	award, err := c.store.CreateAward(state.Award{
		BadgeID:     badge.ID,
		IssuerID:    issuer.ID,
		ClaimPubkey: claimant,
	})
	if errors.Is(err, state.ErrAwardExists) {
		return ErrDuplicateClaim
	}
	if err != nil {
		return err
	}

	event, err := c.PublishAuthoredEvent(issuer, *award)
	if err != nil {
		return fmt.Errorf("award couldn't be uploaded to nostr: %w", err)
	}
	award.EventID = event.ID
	award.EventCreatedAt = int64(event.CreatedAt)
	return c.store.UpdateAward(*award)
}

// checkProximity encodes the claimant's coordinates and measures against the
// badge's geohash. The haversine distance is the authoritative one; the
// approximation is only logged as a sanity signal. Accept strictly below the
// threshold, reject at or above it.
func (c *Conductor) checkProximity(badgeGeohash string, claim ClaimRequest) error {
	if claim.Lat == nil || claim.Long == nil {
		return fmt.Errorf("%w: no coordinates supplied", ErrProximityRejected)
	}
	claimantGeohash := library.EncodeGeohash(*claim.Lat, *claim.Long)

	if approx, err := library.ApproximateDistanceMeters(claimantGeohash, badgeGeohash); err == nil {
		library.LogCLI(fmt.Sprintf("Approximate distance in meters: %.0f", approx), 3)
	}
	distance, err := library.HaversineDistanceMeters(claimantGeohash, badgeGeohash)
	if err != nil {
		return err
	}
	library.LogCLI(fmt.Sprintf("Distance in meters: %.0f", distance), 3)
	if distance >= c.ProximityThresholdMeters {
		return ErrProximityRejected
	}
	return nil
}

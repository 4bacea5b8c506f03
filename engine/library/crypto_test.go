package library

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedTestEvent(t *testing.T, privateKey string, kind int, content string) nostr.Event {
	t.Helper()
	pub, err := DerivePublicKey(privateKey)
	require.NoError(t, err)
	event := nostr.Event{
		PubKey:    pub,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      kind,
		Tags:      nostr.Tags{nostr.Tag{"d", "badge-1"}},
		Content:   content,
	}
	event.ID = event.GetID()
	digest, err := hex.DecodeString(event.ID)
	require.NoError(t, err)
	sig, err := SignEventDigest(privateKey, digest)
	require.NoError(t, err)
	event.Sig = sig
	return event
}

func TestSignEventDigestProducesVerifiableEvent(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	event := signedTestEvent(t, sk, KindBadgeDefinition, "")
	assert.True(t, VerifyEvent(event))

	// tampering with any signed field must break verification
	tampered := event
	tampered.Content = "something else"
	assert.False(t, VerifyEvent(tampered))
}

func TestSignEventDigestRejectsBadKeys(t *testing.T) {
	digest := make([]byte, 32)
	_, err := SignEventDigest("not hex", digest)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = SignEventDigest("abcd", digest)
	assert.ErrorIs(t, err, ErrInvalidKey)

	sk := nostr.GeneratePrivateKey()
	_, err = SignEventDigest(sk, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSharedSecretRoundTrip(t *testing.T) {
	issuerSk := nostr.GeneratePrivateKey()
	issuerPk, err := DerivePublicKey(issuerSk)
	require.NoError(t, err)
	claimantSk := nostr.GeneratePrivateKey()
	claimantPk, err := DerivePublicKey(claimantSk)
	require.NoError(t, err)

	issuerSecret, err := SharedSecret(issuerSk, claimantPk)
	require.NoError(t, err)
	claimantSecret, err := SharedSecret(claimantSk, issuerPk)
	require.NoError(t, err)
	require.Equal(t, issuerSecret, claimantSecret)

	for _, plaintext := range []string{
		`{"type":"claim_poap","badge_id":"b1","lat":52.37,"long":4.89}`,
		"",
		"héllø wörld ✓",
	} {
		ciphertext, err := EncryptDM(plaintext, claimantSecret)
		require.NoError(t, err)
		decrypted, err := DecryptDM(ciphertext, issuerSecret)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestDecryptDMFailsOnGarbage(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, err := DerivePublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	secret, err := SharedSecret(sk, pk)
	require.NoError(t, err)

	_, err = DecryptDM("definitely not ciphertext", secret)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEventIDIsDeterministic(t *testing.T) {
	event := nostr.Event{
		PubKey:    "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798",
		CreatedAt: nostr.Timestamp(1700000000),
		Kind:      KindBadgeDefinition,
		Tags:      nostr.Tags{nostr.Tag{"d", "b1"}, nostr.Tag{"image", "https://img"}},
		Content:   "",
	}
	first := event.GetID()
	assert.Equal(t, first, event.GetID())

	changedContent := event
	changedContent.Content = "x"
	assert.NotEqual(t, first, changedContent.GetID())

	changedTag := event
	changedTag.Tags = nostr.Tags{nostr.Tag{"d", "b2"}, nostr.Tag{"image", "https://img"}}
	assert.NotEqual(t, first, changedTag.GetID())

	changedTime := event
	changedTime.CreatedAt = nostr.Timestamp(1700000001)
	assert.NotEqual(t, first, changedTime.GetID())
}

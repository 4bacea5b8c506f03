package state

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poap/engine/library"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "poap.db"))
	require.NoError(t, err)
	return store
}

func makeIssuer(t *testing.T, store *Store, userID string) *Issuer {
	t.Helper()
	issuer, err := store.CreateIssuer(userID, nostr.GeneratePrivateKey(), "", "")
	require.NoError(t, err)
	return issuer
}

func TestCreateIssuerDerivesPublicKey(t *testing.T) {
	store := openTestStore(t)
	sk := nostr.GeneratePrivateKey()
	expected, err := library.DerivePublicKey(sk)
	require.NoError(t, err)

	issuer, err := store.CreateIssuer("user-1", sk, "", "")
	require.NoError(t, err)
	assert.Equal(t, expected, issuer.PublicKey)
	assert.Equal(t, "{}", issuer.Meta)
	assert.NotEmpty(t, issuer.ID)
}

func TestCreateIssuerUniqueness(t *testing.T) {
	store := openTestStore(t)
	sk := nostr.GeneratePrivateKey()
	_, err := store.CreateIssuer("user-1", sk, "", "")
	require.NoError(t, err)

	// same user, fresh key
	_, err = store.CreateIssuer("user-1", nostr.GeneratePrivateKey(), "", "")
	assert.ErrorIs(t, err, ErrIssuerExists)

	// fresh user, same key
	_, err = store.CreateIssuer("user-2", sk, "", "")
	assert.ErrorIs(t, err, ErrIssuerExists)

	_, err = store.CreateIssuer("user-2", nostr.GeneratePrivateKey(), "", "")
	assert.NoError(t, err)
}

func TestIssuerLookups(t *testing.T) {
	store := openTestStore(t)
	issuer := makeIssuer(t, store, "user-1")

	byID, err := store.GetIssuer(issuer.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, issuer.PublicKey, byID.PublicKey)

	byUser, err := store.GetIssuerForUser("user-1")
	require.NoError(t, err)
	require.NotNil(t, byUser)
	assert.Equal(t, issuer.ID, byUser.ID)

	byKey, err := store.GetIssuerByPublicKey(issuer.PublicKey)
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, issuer.ID, byKey.ID)

	missing, err := store.GetIssuer("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	other := makeIssuer(t, store, "user-2")
	keys, err := store.GetIssuerPublicKeys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []library.Account{issuer.PublicKey, other.PublicKey}, keys)
}

func TestUpsertBadge(t *testing.T) {
	store := openTestStore(t)
	issuer := makeIssuer(t, store, "user-1")

	badge := Badge{
		ID:             "badge-1",
		IssuerID:       issuer.ID,
		Name:           "Gophercon 2026",
		Image:          "https://example.com/badge.png",
		EventCreatedAt: 100,
	}
	require.NoError(t, store.UpsertBadge(badge))

	// a stale replaceable event must not clobber the newer row
	stale := badge
	stale.Name = "old name"
	stale.EventCreatedAt = 50
	require.NoError(t, store.UpsertBadge(stale))

	got, err := store.GetBadge("badge-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Gophercon 2026", got.Name)
	assert.EqualValues(t, 100, got.EventCreatedAt)

	// a fresher event wins
	fresh := badge
	fresh.Name = "new name"
	fresh.EventCreatedAt = 200
	require.NoError(t, store.UpsertBadge(fresh))
	got, err = store.GetBadge("badge-1")
	require.NoError(t, err)
	assert.Equal(t, "new name", got.Name)

	// a badge id can never migrate between issuers
	other := makeIssuer(t, store, "user-2")
	hijack := badge
	hijack.IssuerID = other.ID
	assert.Error(t, store.UpsertBadge(hijack))
}

func TestCreateAwardOncePerClaimant(t *testing.T) {
	store := openTestStore(t)
	issuer := makeIssuer(t, store, "user-1")
	_, err := store.CreateBadge(Badge{ID: "badge-1", IssuerID: issuer.ID, Name: "b", Image: "i"})
	require.NoError(t, err)

	award := Award{BadgeID: "badge-1", IssuerID: issuer.ID, ClaimPubkey: "claimant-a", EventCreatedAt: 10}
	created, err := store.CreateAward(award)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	_, err = store.CreateAward(award)
	assert.ErrorIs(t, err, ErrAwardExists)

	exists, err := store.AwardExists("badge-1", "claimant-a")
	require.NoError(t, err)
	assert.True(t, exists)

	// other claimants and other badges are unaffected
	_, err = store.CreateAward(Award{BadgeID: "badge-1", IssuerID: issuer.ID, ClaimPubkey: "claimant-b"})
	assert.NoError(t, err)
	_, err = store.CreateAward(Award{BadgeID: "badge-2", IssuerID: issuer.ID, ClaimPubkey: "claimant-a"})
	assert.NoError(t, err)

	awards, err := store.GetAwards(issuer.ID)
	require.NoError(t, err)
	assert.Len(t, awards, 3)
}

func TestSubscriptionCursors(t *testing.T) {
	store := openTestStore(t)
	issuer := makeIssuer(t, store, "user-1")

	// empty tables mean no cursor at all
	ts, err := store.LastBadgeTimestamp()
	require.NoError(t, err)
	assert.EqualValues(t, 0, ts)
	ts, err = store.LastAwardTimestamp()
	require.NoError(t, err)
	assert.EqualValues(t, 0, ts)

	for i, createdAt := range []int64{100, 300, 200} {
		_, err := store.CreateBadge(Badge{
			ID:             freshID(),
			IssuerID:       issuer.ID,
			Name:           "b",
			Image:          "i",
			EventCreatedAt: createdAt,
		})
		require.NoError(t, err)
		_, err = store.CreateAward(Award{
			BadgeID:        freshID(),
			IssuerID:       issuer.ID,
			ClaimPubkey:    library.Account(fmt.Sprintf("claimant-%d", i)),
			EventCreatedAt: createdAt + 1,
		})
		require.NoError(t, err)
	}

	ts, err = store.LastBadgeTimestamp()
	require.NoError(t, err)
	assert.EqualValues(t, 300, ts)
	ts, err = store.LastAwardTimestamp()
	require.NoError(t, err)
	assert.EqualValues(t, 301, ts)
}

package library

// Account is a hex encoded schnorr public key.
type Account = string

// Sha256 is a hex encoded 32 byte digest, used for event IDs.
type Sha256 = string

// Event kinds this engine exchanges with the relay.
const (
	KindEncryptedDM     = 4
	KindDeletion        = 5
	KindBadgeAward      = 8
	KindProfileBadges   = 30008
	KindBadgeDefinition = 30009
)

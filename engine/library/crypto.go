package library

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

var (
	// ErrInvalidKey means a private key is not a valid 32 byte scalar.
	ErrInvalidKey = errors.New("invalid private key")
	// ErrDecryptionFailed means a NIP-04 payload was malformed or keyed for
	// someone else. Callers on the inbound path drop the message, nothing more.
	ErrDecryptionFailed = errors.New("could not decrypt direct message")
)

// SignEventDigest produces a hex encoded schnorr signature over a 32 byte
// event digest with the given issuer private key.
func SignEventDigest(privateKeyHex string, digest []byte) (string, error) {
	keyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil || len(keyBytes) != 32 {
		return "", ErrInvalidKey
	}
	if len(digest) != 32 {
		return "", fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	privKey, _ := btcec.PrivKeyFromBytes(keyBytes)
	sig, err := schnorr.Sign(privKey, digest)
	if err != nil {
		return "", fmt.Errorf("schnorr sign: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// VerifyEvent checks that the event ID matches its serialization and that the
// signature verifies against the author key.
func VerifyEvent(e nostr.Event) bool {
	if e.GetID() != e.ID {
		return false
	}
	ok, err := e.CheckSignature()
	return err == nil && ok
}

// DerivePublicKey returns the schnorr public key for a private key, used when
// an issuer is created from key material alone.
func DerivePublicKey(privateKeyHex string) (Account, error) {
	pub, err := nostr.GetPublicKey(privateKeyHex)
	if err != nil {
		return "", ErrInvalidKey
	}
	return pub, nil
}

// SharedSecret derives the NIP-04 symmetric secret between our private key and
// a counterparty public key.
func SharedSecret(privateKeyHex string, publicKeyHex Account) ([]byte, error) {
	keyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil || len(keyBytes) != 32 {
		return nil, ErrInvalidKey
	}
	secret, err := nip04.ComputeSharedSecret(publicKeyHex, privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}
	return secret, nil
}

// DecryptDM decrypts NIP-04 ciphertext ("<payload>?iv=<iv>") with a shared
// secret from SharedSecret.
func DecryptDM(content string, secret []byte) (string, error) {
	plain, err := nip04.Decrypt(content, secret)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDecryptionFailed, err)
	}
	return plain, nil
}

// EncryptDM is the counterpart of DecryptDM, used by tests and by anything
// that wants to message a claimant back.
func EncryptDM(plaintext string, secret []byte) (string, error) {
	return nip04.Encrypt(plaintext, secret)
}

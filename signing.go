package jlap

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Signer provides optional publisher-identity signing of a JLAP's metadata
// record (spec §4.6 enrichment: see DESIGN.md "Publisher identity
// signatures"). The hash chain (C2) already proves a JLAP is internally
// consistent; a Signer additionally proves who published it.
type Signer struct {
	privateKey string
	publicKey  string
}

// NewSigner creates a signer with a freshly generated keypair.
func NewSigner() (*Signer, error) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, err
	}
	return &Signer{privateKey: sk, publicKey: pk}, nil
}

// NewSignerFromKey creates a signer from an existing private key.
func NewSignerFromKey(privateKey string) (*Signer, error) {
	pk, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, err
	}
	return &Signer{privateKey: privateKey, publicKey: pk}, nil
}

// PublicKey returns the signer's public key.
func (s *Signer) PublicKey() string {
	return s.publicKey
}

// SignedMetadata is a MetadataRecord plus a detached signature over it.
type SignedMetadata struct {
	MetadataRecord
	PublicKey string `json:"pubkey"`
	Signature string `json:"sig"`
}

// Sign signs rec's {url, latest} pair, producing a SignedMetadata. Headers
// are excluded from the signed message: they are origin-server passthrough
// data, not something the publisher is attesting to.
func (s *Signer) Sign(rec MetadataRecord) (SignedMetadata, error) {
	message := s.signingMessage(rec)
	sig, err := s.signMessage(message)
	if err != nil {
		return SignedMetadata{}, err
	}
	return SignedMetadata{
		MetadataRecord: rec,
		PublicKey:      s.publicKey,
		Signature:      sig,
	}, nil
}

// Verify checks signed's signature against publicKey.
func (s *Signer) Verify(signed SignedMetadata, publicKey string) error {
	if signed.Signature == "" {
		return errors.New("jlap: metadata record has no signature")
	}
	message := s.signingMessage(signed.MetadataRecord)
	return s.verifyMessage(message, signed.Signature, publicKey)
}

func (s *Signer) signingMessage(rec MetadataRecord) string {
	return fmt.Sprintf("jlap:v1:%s:%s", rec.URL, rec.Latest)
}

// signMessage signs message using a Nostr kind-1 event as the signature
// container (teacher's signMessage pattern).
func (s *Signer) signMessage(message string) (string, error) {
	hash := sha256.Sum256([]byte(message))
	hashHex := hex.EncodeToString(hash[:])

	event := nostr.Event{
		PubKey:    s.publicKey,
		CreatedAt: nostr.Now(),
		Kind:      1,
		Tags:      nostr.Tags{},
		Content:   hashHex,
	}
	if err := event.Sign(s.privateKey); err != nil {
		return "", err
	}
	return event.Sig, nil
}

func (s *Signer) verifyMessage(message, signature, publicKey string) error {
	hash := sha256.Sum256([]byte(message))
	hashHex := hex.EncodeToString(hash[:])

	event := nostr.Event{
		PubKey:    publicKey,
		CreatedAt: nostr.Now(),
		Kind:      1,
		Tags:      nostr.Tags{},
		Content:   hashHex,
		Sig:       signature,
	}
	ok, err := event.CheckSignature()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("jlap: invalid metadata signature")
	}
	return nil
}

// VerifyChainSignatures verifies every signed metadata record against
// publicKey, useful for a client that has accumulated a history of
// metadata records across successive syncs.
func VerifyChainSignatures(records []SignedMetadata, publicKey string) error {
	var s Signer
	for i, rec := range records {
		if rec.Signature == "" {
			continue
		}
		if err := s.Verify(rec, publicKey); err != nil {
			return fmt.Errorf("jlap: signature verification failed at index %d: %w", i, err)
		}
	}
	return nil
}

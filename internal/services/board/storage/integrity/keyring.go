package integrity

import (
	"crypto/hkdf"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const derivedKeySize = 32

// Keyring signs and verifies history chain hashes. Each user gets an
// HKDF-derived signing key from the root secret, so a signature minted for
// one user never verifies for another. Old keys stay loaded for
// verification after a rotation; only the active key signs.
type Keyring struct {
	roots    map[string][]byte
	activeID string
}

// NewKeyring constructs a keyring from root keys and the id of the one that
// signs.
func NewKeyring(roots map[string][]byte, activeID string) (*Keyring, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("hmac keys are required")
	}
	activeID = strings.TrimSpace(activeID)
	if activeID == "" {
		return nil, fmt.Errorf("active hmac key id is required")
	}
	if _, ok := roots[activeID]; !ok {
		return nil, fmt.Errorf("active hmac key id is not configured")
	}
	return &Keyring{roots: roots, activeID: activeID}, nil
}

// ActiveKeyID returns the signing key id, or empty on a nil keyring.
func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.activeID
}

// SignChainHash signs a chain hash with the user's derived key and returns
// the signature with the key id that produced it.
func (k *Keyring) SignChainHash(userID, chainHash string) (string, string, error) {
	if k == nil {
		return "", "", fmt.Errorf("hmac keyring is not configured")
	}
	key, err := k.userKey(k.activeID, userID)
	if err != nil {
		return "", "", err
	}
	return signHex(key, chainHash), k.activeID, nil
}

// VerifyChainHash checks a stored signature against the chain hash it claims
// to cover, under the key id recorded alongside it.
func (k *Keyring) VerifyChainHash(userID, chainHash, signature, keyID string) error {
	if k == nil {
		return fmt.Errorf("hmac keyring is not configured")
	}
	if strings.TrimSpace(keyID) == "" {
		return fmt.Errorf("signature key id is required")
	}
	key, err := k.userKey(strings.TrimSpace(keyID), userID)
	if err != nil {
		return err
	}
	want := signHex(key, chainHash)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// userKey derives the per-user signing key under the named root.
func (k *Keyring) userKey(keyID, userID string) ([]byte, error) {
	root, ok := k.roots[keyID]
	if !ok {
		return nil, fmt.Errorf("signature key id is unknown")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	key, err := hkdf.Key(sha256.New, root, nil, "user:"+userID, derivedKeySize)
	if err != nil {
		return nil, fmt.Errorf("derive user key: %w", err)
	}
	return key, nil
}

func signHex(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

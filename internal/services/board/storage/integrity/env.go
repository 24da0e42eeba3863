package integrity

import (
	"fmt"
	"os"
	"strings"
)

const (
	envHMACKeys  = "PODIUM_LIVE_BOARD_HISTORY_HMAC_KEYS"
	envHMACKey   = "PODIUM_LIVE_BOARD_HISTORY_HMAC_KEY"
	envHMACKeyID = "PODIUM_LIVE_BOARD_HISTORY_HMAC_KEY_ID"
	defaultKeyID = "v1"
)

// KeyringFromEnv builds the history signing keyring from the environment.
// A multi-key spec ("id=secret,id2=secret2") supports rotation; the single
// key form covers deployments that never rotate.
func KeyringFromEnv() (*Keyring, error) {
	activeID := strings.TrimSpace(os.Getenv(envHMACKeyID))
	if activeID == "" {
		activeID = defaultKeyID
	}

	if spec := strings.TrimSpace(os.Getenv(envHMACKeys)); spec != "" {
		keys, err := parseKeySpec(spec)
		if err != nil {
			return nil, err
		}
		return NewKeyring(keys, activeID)
	}

	single := strings.TrimSpace(os.Getenv(envHMACKey))
	if single == "" {
		return nil, fmt.Errorf("%s is required", envHMACKey)
	}
	return NewKeyring(map[string][]byte{activeID: []byte(single)}, activeID)
}

func parseKeySpec(spec string) (map[string][]byte, error) {
	keys := make(map[string][]byte)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, secret, found := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		secret = strings.TrimSpace(secret)
		if !found || id == "" || secret == "" {
			return nil, fmt.Errorf("invalid %s entry", envHMACKeys)
		}
		keys[id] = []byte(secret)
	}
	return keys, nil
}

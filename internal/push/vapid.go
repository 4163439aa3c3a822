package push

import (
	"fmt"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/Tyrowin/relaychat/internal/store"
)

// Keys is a VAPID key pair in the base64url form browsers expect.
type Keys struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// LoadOrCreateKeys reads the key pair at path, generating and saving a new
// one when the file is missing or unusable. Keys are never regenerated once
// saved, because every stored subscription is bound to the public key.
func LoadOrCreateKeys(path string) (Keys, bool, error) {
	keys, err := store.LoadJSON(path, Keys{})
	if err == nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		return keys, false, nil
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return Keys{}, false, fmt.Errorf("push: generate vapid keys: %w", err)
	}
	keys = Keys{PublicKey: pub, PrivateKey: priv}
	if err := store.SaveJSON(path, keys); err != nil {
		return Keys{}, false, fmt.Errorf("push: save vapid keys: %w", err)
	}
	return keys, true, nil
}

package remote

import (
	"errors"
	"fmt"

	openssl "github.com/Luzifer/go-openssl/v4"
)

// ErrDecryption is returned when a blob cannot be decrypted or does not hold
// the expected plaintext. It is never reported as an empty result.
var ErrDecryption = errors.New("remote: decryption failed")

// Cipher encrypts blobs with a passphrase using the OpenSSL "Salted__"
// envelope (AES-256-CBC, MD5 key derivation, base64). This is the format
// CryptoJS.AES produces for a string key, so blobs stay readable by browser
// tooling that shares the secret.
type Cipher struct {
	secret string
	o      *openssl.OpenSSL
}

// NewCipher returns a Cipher for secret, which must not be empty.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("remote: empty encryption secret")
	}
	return &Cipher{secret: secret, o: openssl.New()}, nil
}

// Encrypt returns the base64 envelope for plaintext. A fresh salt is drawn
// for every call.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	enc, err := c.o.EncryptBytes(c.secret, plaintext, openssl.BytesToKeyMD5)
	if err != nil {
		return "", fmt.Errorf("remote: encrypt: %w", err)
	}
	return string(enc), nil
}

// Decrypt reverses Encrypt. Any failure wraps ErrDecryption.
func (c *Cipher) Decrypt(envelope string) ([]byte, error) {
	plain, err := c.o.DecryptBytes(c.secret, []byte(envelope), openssl.BytesToKeyMD5)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plain, nil
}

package authority

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	sessionKeyLen  = 32
	releasedKeyLen = 32

	infoSMK       = "trustedbroker/smk"
	infoSK        = "trustedbroker/sk"
	infoMK        = "trustedbroker/mk"
	infoKeyPrefix = "trustedbroker/key/"
)

// SessionKeys is the key schedule derived from one X25519 exchange.
// SMK authenticates handshake messages, SK seals released keys, MK
// authenticates the attestation result.
type SessionKeys struct {
	SMK []byte
	SK  []byte
	MK  []byte
}

// DeriveSessionKeys expands an X25519 shared secret into the session key schedule.
func DeriveSessionKeys(shared []byte) (SessionKeys, error) {
	if len(shared) != curve25519.PointSize {
		return SessionKeys{}, fmt.Errorf("%w: shared secret must be %d bytes", ErrMalformed, curve25519.PointSize)
	}
	var keys SessionKeys
	for _, k := range []struct {
		dst  *[]byte
		info string
	}{
		{&keys.SMK, infoSMK},
		{&keys.SK, infoSK},
		{&keys.MK, infoMK},
	} {
		out, err := expand(shared, k.info, sessionKeyLen)
		if err != nil {
			return SessionKeys{}, err
		}
		*k.dst = out
	}
	return keys, nil
}

// DeriveKey returns the released key for keyID under master.
func DeriveKey(master []byte, keyID string) ([]byte, error) {
	return expand(master, infoKeyPrefix+keyID, releasedKeyLen)
}

// OpenKey reverses the sealing done for KEY_RES.
func OpenKey(sk, nonce, ciphertext []byte, keyID string) ([]byte, error) {
	aead, err := chacha20poly1305.New(sk)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, []byte(keyID))
}

func sealKey(sk, key []byte, keyID string) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.New(sk)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("authority: nonce: %w", err)
	}
	return nonce, aead.Seal(nil, nonce, key, []byte(keyID)), nil
}

func expand(secret []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("authority: hkdf %s: %w", info, err)
	}
	return out, nil
}

func computeMAC(key []byte, parts ...[]byte) []byte {
	m := hmac.New(sha256.New, key)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

func newKeyPair() (priv, pub []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, nil, fmt.Errorf("authority: generate key: %w", err)
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

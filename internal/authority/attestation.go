package authority

import (
	"bytes"
	"crypto/hmac"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/danmuck/trustedbroker/internal/protocol/frame"
	"github.com/danmuck/trustedbroker/internal/protocol/schema"
	"github.com/danmuck/trustedbroker/internal/protocol/tlv"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/curve25519"
)

const StatusTrusted = "trusted"

// attestationSession holds the handshake state of one main-channel session.
// It is only used from the goroutine serving that session.
type attestationSession struct {
	auth *Authority
	log  zerolog.Logger

	ga       []byte
	keys     *SessionKeys
	attested bool
}

func newAttestationSession(a *Authority, sessionID string) *attestationSession {
	return &attestationSession{
		auth: a,
		log:  a.log.With().Str("session_id", sessionID).Logger(),
	}
}

// ProcessMsg0 checks the little-endian extended group id. Only group 0 is served.
func (s *attestationSession) ProcessMsg0(body []byte) error {
	if len(body) < 4 {
		return fmt.Errorf("%w: msg0 body %d bytes", ErrMalformed, len(body))
	}
	gid := binary.LittleEndian.Uint32(body[:4])
	if gid != 0 {
		return fmt.Errorf("%w: %d", ErrUnsupportedGroup, gid)
	}
	s.log.Debug().Uint32("gid", gid).Msg("msg0 accepted")
	return nil
}

func (s *attestationSession) ProcessMsg1(body []byte) (frame.Package, error) {
	fields, err := schema.DecodeBody(frame.TypeRAMsg1, body)
	if err != nil {
		return frame.Package{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	ga := schema.Bytes(fields, schema.FieldGa)
	if len(ga) != curve25519.PointSize {
		return frame.Package{}, fmt.Errorf("%w: ga must be %d bytes", ErrMalformed, curve25519.PointSize)
	}
	gidField, _ := tlv.GetField(fields, schema.FieldGID)
	gid, err := tlv.U32FromBytes(gidField.Value)
	if err != nil {
		return frame.Package{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if gid != 0 {
		return frame.Package{}, fmt.Errorf("%w: %d", ErrUnsupportedGroup, gid)
	}

	priv, gb, err := newKeyPair()
	if err != nil {
		return frame.Package{}, err
	}
	shared, err := curve25519.X25519(priv, ga)
	if err != nil {
		return frame.Package{}, fmt.Errorf("%w: ga: %w", ErrMalformed, err)
	}
	keys, err := DeriveSessionKeys(shared)
	if err != nil {
		return frame.Package{}, err
	}
	s.ga = bytes.Clone(ga)
	s.keys = &keys
	s.attested = false

	s.log.Debug().Str("ga", hex.EncodeToString(ga)).Msg("msg1 key exchange done")
	return schema.EncodePackage(frame.TypeRAMsg2, []tlv.Field{
		tlv.Bytes(schema.FieldGb, gb),
		tlv.Bytes(schema.FieldSPID, s.auth.spid),
		tlv.Bytes(schema.FieldMAC, computeMAC(keys.SMK, gb, ga, s.auth.spid)),
	})
}

func (s *attestationSession) ProcessMsg3(body []byte) (frame.Package, error) {
	if s.keys == nil {
		return frame.Package{}, fmt.Errorf("%w: msg3 before msg1", ErrOutOfOrder)
	}
	fields, err := schema.DecodeBody(frame.TypeRAMsg3, body)
	if err != nil {
		return frame.Package{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	ga := schema.Bytes(fields, schema.FieldGa)
	quote := schema.Bytes(fields, schema.FieldQuote)
	mac := schema.Bytes(fields, schema.FieldMAC)

	if !bytes.Equal(ga, s.ga) {
		return frame.Package{}, ErrKeyMismatch
	}
	if !hmac.Equal(mac, computeMAC(s.keys.SMK, ga, quote)) {
		return frame.Package{}, fmt.Errorf("%w: msg3", ErrBadMAC)
	}
	if len(quote) < MeasurementLen {
		return frame.Package{}, fmt.Errorf("%w: quote %d bytes", ErrMalformed, len(quote))
	}
	measurement := quote[:MeasurementLen]
	if !s.auth.measurementAllowed(measurement) {
		return frame.Package{}, fmt.Errorf("%w: %s", ErrUntrustedMeasurement, hex.EncodeToString(measurement))
	}
	s.attested = true

	s.log.Info().Str("measurement", hex.EncodeToString(measurement)).Msg("enclave attested")
	return schema.EncodePackage(frame.TypeRAAttResult, []tlv.Field{
		tlv.String(schema.FieldStatus, StatusTrusted),
		tlv.Bytes(schema.FieldMAC, computeMAC(s.keys.MK, []byte(StatusTrusted))),
	})
}

func (s *attestationSession) ProcessKeyRequest(body []byte) (frame.Package, error) {
	fields, err := schema.DecodeBody(frame.TypeKeyRequest, body)
	if err != nil {
		return frame.Package{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	keyID := strings.TrimSpace(schema.String(fields, schema.FieldKeyID))
	if keyID == "" {
		return frame.Package{}, fmt.Errorf("%w: empty key_id", ErrMalformed)
	}
	if s.auth.requireAttestation && !s.attested {
		return frame.Package{}, ErrNotAttested
	}
	if s.keys == nil {
		return frame.Package{}, fmt.Errorf("%w: key request before msg1", ErrOutOfOrder)
	}

	key, err := DeriveKey(s.auth.masterKey, keyID)
	if err != nil {
		return frame.Package{}, err
	}
	nonce, ciphertext, err := sealKey(s.keys.SK, key, keyID)
	if err != nil {
		return frame.Package{}, err
	}

	s.log.Info().Str("key_id", keyID).Bool("attested", s.attested).Msg("key released")
	return schema.EncodePackage(frame.TypeKeyResponse, []tlv.Field{
		tlv.String(schema.FieldKeyID, keyID),
		tlv.Bytes(schema.FieldNonce, nonce),
		tlv.Bytes(schema.FieldCiphertext, ciphertext),
	})
}

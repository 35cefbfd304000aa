package schema

import (
	"fmt"

	"github.com/danmuck/trustedbroker/internal/protocol/frame"
	"github.com/danmuck/trustedbroker/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Field IDs carried in TLV package bodies.
const (
	FieldGa     uint16 = 1
	FieldGb     uint16 = 2
	FieldGID    uint16 = 3
	FieldSPID   uint16 = 4
	FieldMAC    uint16 = 5
	FieldQuote  uint16 = 6
	FieldStatus uint16 = 7

	FieldKeyID      uint16 = 100
	FieldNonce      uint16 = 101
	FieldCiphertext uint16 = 102

	FieldSequence    uint16 = 200
	FieldTimestampMS uint16 = 201
	FieldReason      uint16 = 202
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType frame.Type
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%s: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%s field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

// RA_MSG0 carries a raw extended group id and has no TLV body.
var requirements = map[frame.Type][]Requirement{
	frame.TypeRAMsg1: {
		{FieldGa, tlv.TypeBytes},
		{FieldGID, tlv.TypeU32},
	},
	frame.TypeRAMsg2: {
		{FieldGb, tlv.TypeBytes},
		{FieldSPID, tlv.TypeBytes},
		{FieldMAC, tlv.TypeBytes},
	},
	frame.TypeRAMsg3: {
		{FieldGa, tlv.TypeBytes},
		{FieldQuote, tlv.TypeBytes},
		{FieldMAC, tlv.TypeBytes},
	},
	frame.TypeRAAttResult: {
		{FieldStatus, tlv.TypeString},
		{FieldMAC, tlv.TypeBytes},
	},
	frame.TypeKeyRequest: {
		{FieldKeyID, tlv.TypeString},
	},
	frame.TypeKeyResponse: {
		{FieldKeyID, tlv.TypeString},
		{FieldNonce, tlv.TypeBytes},
		{FieldCiphertext, tlv.TypeBytes},
	},
	frame.TypeHeartbeat: {
		{FieldSequence, tlv.TypeU64},
		{FieldTimestampMS, tlv.TypeU64},
		{FieldStatus, tlv.TypeString},
	},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType frame.Type, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Stringer("type", messageType).Msg("schema.Validate unknown message type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().
				Stringer("type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().
				Stringer("type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}

// DecodeBody parses a TLV body and validates it against messageType.
func DecodeBody(messageType frame.Type, body []byte) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return nil, err
	}
	if err := Validate(messageType, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// EncodePackage validates fields and wraps them into a package of messageType.
func EncodePackage(messageType frame.Type, fields []tlv.Field) (frame.Package, error) {
	if err := Validate(messageType, fields); err != nil {
		return frame.Package{}, err
	}
	body := tlv.EncodeFields(fields)
	if len(body) > frame.MaxBodyLen {
		return frame.Package{}, fmt.Errorf("%w: %s body %d bytes", frame.ErrBodyTooLarge, messageType, len(body))
	}
	return frame.Package{Type: messageType, Body: body}, nil
}

// Bytes returns the value of a field already checked by Validate.
func Bytes(fields []tlv.Field, id uint16) []byte {
	f, _ := tlv.GetField(fields, id)
	return f.Value
}

// String returns the value of a field already checked by Validate.
func String(fields []tlv.Field, id uint16) string {
	return string(Bytes(fields, id))
}

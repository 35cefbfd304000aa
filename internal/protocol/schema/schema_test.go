package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/trustedbroker/internal/protocol/frame"
	"github.com/danmuck/trustedbroker/internal/protocol/tlv"
	"github.com/danmuck/trustedbroker/internal/testutil/testlog"
)

func TestValidateMsg1RequiredFields(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.Bytes(FieldGa, make([]byte, 32)),
		tlv.U32(FieldGID, 0),
	}
	if err := Validate(frame.TypeRAMsg1, fields); err != nil {
		t.Fatalf("validate msg1: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.String(FieldKeyID, "key.disk"),
		{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}},
	}
	if err := Validate(frame.TypeKeyRequest, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{tlv.Bytes(FieldGa, make([]byte, 32))}
	err := Validate(frame.TypeRAMsg3, fields)
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldQuote || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.Bytes(FieldGa, make([]byte, 32)),
		tlv.String(FieldGID, "zero"),
	}
	err := Validate(frame.TypeRAMsg1, fields)
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldGID || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateRawMsg0HasNoSchema(t *testing.T) {
	testlog.Start(t)
	err := Validate(frame.TypeRAMsg0, nil)
	var ve ValidationError
	if !errors.As(err, &ve) || ve.Reason != "unknown message_type" {
		t.Fatalf("expected unknown message_type, got %v", err)
	}
}

func TestEncodePackageDecodeBody(t *testing.T) {
	testlog.Start(t)
	pkg, err := EncodePackage(frame.TypeHeartbeat, []tlv.Field{
		tlv.U64(FieldSequence, 7),
		tlv.U64(FieldTimestampMS, 1760000000000),
		tlv.String(FieldStatus, "ok"),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if pkg.Type != frame.TypeHeartbeat {
		t.Fatalf("unexpected type: %s", pkg.Type)
	}
	fields, err := DecodeBody(frame.TypeHeartbeat, pkg.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if String(fields, FieldStatus) != "ok" {
		t.Fatalf("unexpected status: %q", String(fields, FieldStatus))
	}
	if _, err := DecodeBody(frame.TypeKeyResponse, pkg.Body); err == nil {
		t.Fatalf("expected schema error for mismatched type")
	}
}

func TestEncodePackageRejectsOversizedBody(t *testing.T) {
	testlog.Start(t)
	_, err := EncodePackage(frame.TypeKeyRequest, []tlv.Field{
		tlv.String(FieldKeyID, string(make([]byte, frame.MaxBodyLen))),
	})
	if !errors.Is(err, frame.ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

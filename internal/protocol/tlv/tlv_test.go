package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		String(1, "key.disk"),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	b := EncodeFields(in)
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestIntegerFieldHelpers(t *testing.T) {
	f32 := U32(2, 0xDEADBEEF)
	v32, err := U32FromBytes(f32.Value)
	if err != nil || v32 != 0xDEADBEEF {
		t.Fatalf("u32 mismatch: v=%x err=%v", v32, err)
	}
	f64 := U64(3, 1760000000000)
	v64, err := U64FromBytes(f64.Value)
	if err != nil || v64 != 1760000000000 {
		t.Fatalf("u64 mismatch: v=%d err=%v", v64, err)
	}
	if _, err := U64FromBytes([]byte{1, 2}); err == nil {
		t.Fatalf("expected length error")
	}
	if err := MustType(f64, TypeU32); err == nil {
		t.Fatalf("expected type mismatch")
	}
}

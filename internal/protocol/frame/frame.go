package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// PkgSize is the fixed on-wire size of every package, request or response.
	PkgSize = 4096
	// HeaderLen covers the type and size fields.
	HeaderLen = 8
	// MaxBodyLen is the largest body a single package can carry.
	MaxBodyLen = PkgSize - HeaderLen
)

var (
	ErrShortFrame     = errors.New("frame: short package")
	ErrInvalidLength  = errors.New("frame: invalid package length")
	ErrBodyTooLarge   = errors.New("frame: body too large")
	ErrSizeOutOfRange = errors.New("frame: declared body size out of range")
)

// Type identifies the message carried by a package.
type Type uint32

const (
	TypeRAMsg0      Type = 1
	TypeRAMsg1      Type = 2
	TypeRAMsg2      Type = 3
	TypeRAMsg3      Type = 4
	TypeRAAttResult Type = 5
	TypeKeyRequest  Type = 6
	TypeKeyResponse Type = 7
	TypeHeartbeat   Type = 8
)

func (t Type) String() string {
	switch t {
	case TypeRAMsg0:
		return "RA_MSG0"
	case TypeRAMsg1:
		return "RA_MSG1"
	case TypeRAMsg2:
		return "RA_MSG2"
	case TypeRAMsg3:
		return "RA_MSG3"
	case TypeRAAttResult:
		return "RA_ATT_RESULT"
	case TypeKeyRequest:
		return "KEY_REQ"
	case TypeKeyResponse:
		return "KEY_RES"
	case TypeHeartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
	}
}

// Known reports whether t is part of the closed type enumeration.
func (t Type) Known() bool {
	return t >= TypeRAMsg0 && t <= TypeHeartbeat
}

// Package is one logical message; on the wire it always occupies PkgSize bytes.
type Package struct {
	Type Type
	Body []byte
}

// Size is the body length as carried in the header.
func (p Package) Size() uint32 {
	return uint32(len(p.Body))
}

// Encode serializes p into a zero-padded PkgSize buffer.
// Header fields are little-endian.
func Encode(p Package) ([]byte, error) {
	if len(p.Body) > MaxBodyLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, len(p.Body), MaxBodyLen)
	}
	buf := make([]byte, PkgSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Type))
	binary.LittleEndian.PutUint32(buf[4:8], p.Size())
	copy(buf[HeaderLen:], p.Body)
	return buf, nil
}

// Decode parses one PkgSize buffer. The declared size is checked against
// the body capacity before the body is copied out.
func Decode(b []byte) (Package, error) {
	if len(b) != PkgSize {
		return Package{}, fmt.Errorf("%w: %d", ErrInvalidLength, len(b))
	}
	t := Type(binary.LittleEndian.Uint32(b[0:4]))
	size := binary.LittleEndian.Uint32(b[4:8])
	if size > MaxBodyLen {
		return Package{}, fmt.Errorf("%w: %d", ErrSizeOutOfRange, size)
	}
	body := make([]byte, size)
	copy(body, b[HeaderLen:HeaderLen+int(size)])
	return Package{Type: t, Body: body}, nil
}

// ReadPackage reads exactly one package from r. A peer that closes before
// sending any byte yields io.EOF; a truncated package yields ErrShortFrame.
func ReadPackage(r io.Reader) (Package, error) {
	buf := make([]byte, PkgSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Package{}, ErrShortFrame
		}
		return Package{}, err
	}
	return Decode(buf)
}

// WritePackage writes p as exactly one PkgSize frame.
func WritePackage(w io.Writer, p Package) error {
	buf, err := Encode(p)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Package wire implements the minimal binary protocol this module uses to
// talk to a remote compute engine: connect, an optional login challenge,
// assign a named value, evaluate an expression, and close. It stands in for
// the "external protocol library" spec.md treats as a given collaborator —
// no such library exists in the retrieved example corpus, so this package
// plays that role directly, kept behind the driver.Conn contract so the pool
// and executor never see a byte on the wire.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Kind tags the shape of a Value on the wire.
type Kind byte

const (
	KindString     Kind = 0x01
	KindStringList Kind = 0x02
	KindFloat      Kind = 0x03
	KindFloatList  Kind = 0x04
	KindError      Kind = 0xff
)

// Value is a typed result or input binding exchanged with the remote
// engine: one of a string, a string list, a float64 scalar, or a float64
// vector — the four kinds spec.md §4.5 recognizes.
type Value struct {
	Kind    Kind
	Str     string
	Strs    []string
	Float   float64
	Floats  []float64
	ErrText string
}

// StringValue wraps a string input/output.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// StringListValue wraps a string-slice input/output.
func StringListValue(ss []string) Value { return Value{Kind: KindStringList, Strs: ss} }

// FloatValue wraps a float64 scalar input/output.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// FloatListValue wraps a float64-slice input/output.
func FloatListValue(fs []float64) Value { return Value{Kind: KindFloatList, Floats: fs} }

// IsError reports whether this Value represents a remote error response.
func (v Value) IsError() bool { return v.Kind == KindError }

// Encode serializes v as tag-byte + payload.
func Encode(v Value) []byte {
	switch v.Kind {
	case KindString:
		return append([]byte{byte(KindString)}, encodeString(v.Str)...)
	case KindStringList:
		buf := []byte{byte(KindStringList)}
		buf = appendUint32(buf, uint32(len(v.Strs)))
		for _, s := range v.Strs {
			buf = append(buf, encodeString(s)...)
		}
		return buf
	case KindFloat:
		buf := []byte{byte(KindFloat)}
		return appendFloat64(buf, v.Float)
	case KindFloatList:
		buf := []byte{byte(KindFloatList)}
		buf = appendUint32(buf, uint32(len(v.Floats)))
		for _, f := range v.Floats {
			buf = appendFloat64(buf, f)
		}
		return buf
	case KindError:
		return append([]byte{byte(KindError)}, encodeString(v.ErrText)...)
	default:
		return []byte{byte(KindError)}
	}
}

// Decode parses a tag-byte + payload buffer produced by Encode.
func Decode(buf []byte) (Value, error) {
	if len(buf) < 1 {
		return Value{}, fmt.Errorf("wire: empty value buffer")
	}
	kind := Kind(buf[0])
	rest := buf[1:]
	switch kind {
	case KindString:
		s, _, err := readString(rest)
		if err != nil {
			return Value{}, err
		}
		return StringValue(s), nil
	case KindStringList:
		if len(rest) < 4 {
			return Value{}, fmt.Errorf("wire: truncated string list")
		}
		count := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		out := make([]string, 0, count)
		for i := uint32(0); i < count; i++ {
			s, n, err := readString(rest)
			if err != nil {
				return Value{}, err
			}
			out = append(out, s)
			rest = rest[n:]
		}
		return StringListValue(out), nil
	case KindFloat:
		if len(rest) < 8 {
			return Value{}, fmt.Errorf("wire: truncated float")
		}
		return FloatValue(math.Float64frombits(binary.BigEndian.Uint64(rest[:8]))), nil
	case KindFloatList:
		if len(rest) < 4 {
			return Value{}, fmt.Errorf("wire: truncated float list")
		}
		count := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		out := make([]float64, 0, count)
		for i := uint32(0); i < count; i++ {
			if len(rest) < 8 {
				return Value{}, fmt.Errorf("wire: truncated float list element")
			}
			out = append(out, math.Float64frombits(binary.BigEndian.Uint64(rest[:8])))
			rest = rest[8:]
		}
		return FloatListValue(out), nil
	case KindError:
		s, _, err := readString(rest)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindError, ErrText: s}, nil
	default:
		return Value{}, fmt.Errorf("wire: unknown value kind 0x%02x", byte(kind))
	}
}

func encodeString(s string) []byte {
	buf := appendUint32(nil, uint32(len(s)))
	return append(buf, s...)
}

func readString(buf []byte) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, fmt.Errorf("wire: truncated string length")
	}
	n := int(binary.BigEndian.Uint32(buf[:4]))
	if n < 0 || 4+n > len(buf) {
		return "", 0, fmt.Errorf("wire: truncated string payload")
	}
	return string(buf[4 : 4+n]), 4 + n, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendFloat64(buf []byte, v float64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v))
	return append(buf, tmp[:]...)
}

// writeFrame writes a length-prefixed message: 1 byte type + 4 byte
// big-endian length + payload.
func writeFrame(w io.Writer, msgType byte, payload []byte) error {
	hdr := make([]byte, 5)
	hdr[0] = msgType
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one length-prefixed message.
func readFrame(r io.Reader) (msgType byte, payload []byte, err error) {
	hdr := make([]byte, 5)
	if _, err = io.ReadFull(r, hdr); err != nil {
		return 0, nil, err
	}
	msgType = hdr[0]
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > 1<<24 {
		return 0, nil, fmt.Errorf("wire: frame too large: %d", n)
	}
	if n == 0 {
		return msgType, nil, nil
	}
	payload = make([]byte, n)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return msgType, payload, nil
}

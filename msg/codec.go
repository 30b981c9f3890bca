package msg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Type tags for the self-describing binary encoding. The wire format for a
// Message is:
//
//	[4 bytes LE total length, including this prefix]
//	{ [2 bytes LE key length][key bytes][1 byte tag][value bytes] }...
//
// This is intentionally a from-scratch minimal codec: spec.md treats the
// document encoding library as an assumed external dependency, but no such
// library exists in the example pack, so one is written here to give the
// module a concrete wire format. See DESIGN.md.
const (
	tagInt32     = 0x01
	tagInt64     = 0x02
	tagUint32    = 0x03
	tagDouble    = 0x04
	tagBool      = 0x05
	tagString    = 0x06
	tagBinary    = 0x07
	tagArray     = 0x08
	tagMessage   = 0x09
	tagID        = 0x0A
	tagTimestamp = 0x0B
	tagNull      = 0x0C
)

var (
	// ErrInvalidLength is returned when a frame's length prefix falls
	// outside [MinMessageLen, MaxMessageLen] (spec.md §4.A).
	ErrInvalidLength = errors.New("msg: invalid length prefix")
	errTruncated     = errors.New("msg: truncated encoding")
	errUnknownTag    = errors.New("msg: unknown type tag")
)

// Encode serializes m to its length-prefixed wire form.
func Encode(m *Message) ([]byte, error) {
	body, err := encodeFields(m)
	if err != nil {
		return nil, err
	}
	total := 4 + len(body)
	if total > MaxMessageLen {
		return nil, fmt.Errorf("msg: encoded length %d exceeds MAX_MESSAGE_LEN", total)
	}
	out := make([]byte, total)
	binary.LittleEndian.PutUint32(out[0:4], uint32(total))
	copy(out[4:], body)
	return out, nil
}

func encodeFields(m *Message) ([]byte, error) {
	var out []byte
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		out = append(out, encodeKey(k)...)
		enc, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

func encodeKey(k string) []byte {
	kb := []byte(k)
	out := make([]byte, 2+len(kb))
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(kb)))
	copy(out[2:], kb)
	return out
}

func encodeValue(v Value) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte{tagNull}, nil
	case int32:
		b := make([]byte, 5)
		b[0] = tagInt32
		binary.LittleEndian.PutUint32(b[1:], uint32(t))
		return b, nil
	case int64:
		b := make([]byte, 9)
		b[0] = tagInt64
		binary.LittleEndian.PutUint64(b[1:], uint64(t))
		return b, nil
	case uint32:
		b := make([]byte, 5)
		b[0] = tagUint32
		binary.LittleEndian.PutUint32(b[1:], t)
		return b, nil
	case float64:
		b := make([]byte, 9)
		b[0] = tagDouble
		binary.LittleEndian.PutUint64(b[1:], math.Float64bits(t))
		return b, nil
	case bool:
		b := make([]byte, 2)
		b[0] = tagBool
		if t {
			b[1] = 1
		}
		return b, nil
	case string:
		sb := []byte(t)
		b := make([]byte, 5+len(sb))
		b[0] = tagString
		binary.LittleEndian.PutUint32(b[1:5], uint32(len(sb)))
		copy(b[5:], sb)
		return b, nil
	case []byte:
		b := make([]byte, 5+len(t))
		b[0] = tagBinary
		binary.LittleEndian.PutUint32(b[1:5], uint32(len(t)))
		copy(b[5:], t)
		return b, nil
	case ID:
		b := make([]byte, 13)
		b[0] = tagID
		copy(b[1:], t[:])
		return b, nil
	case Timestamp:
		b := make([]byte, 9)
		b[0] = tagTimestamp
		binary.LittleEndian.PutUint64(b[1:], uint64(time.Time(t).UnixNano()))
		return b, nil
	case []Value:
		var body []byte
		for _, e := range t {
			enc, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			body = append(body, enc...)
		}
		b := make([]byte, 5+len(body))
		b[0] = tagArray
		binary.LittleEndian.PutUint32(b[1:5], uint32(len(body)))
		copy(b[5:], body)
		return b, nil
	case *Message:
		sub, err := Encode(t)
		if err != nil {
			return nil, err
		}
		return append([]byte{tagMessage}, sub...), nil
	default:
		return nil, fmt.Errorf("msg: unsupported value type %T", v)
	}
}

// Decode parses a single length-prefixed Message from buf, which must
// contain exactly one frame (buf[0:4] is the length and len(buf) must equal
// it). Use ReadFrame-style incremental readers to split a byte stream into
// frames first.
func Decode(buf []byte) (*Message, error) {
	if len(buf) < MinMessageLen {
		return nil, ErrInvalidLength
	}
	length := int(binary.LittleEndian.Uint32(buf[0:4]))
	if length < MinMessageLen || length > MaxMessageLen || length != len(buf) {
		return nil, ErrInvalidLength
	}
	m := New()
	body := buf[4:]
	off := 0
	for off < len(body) {
		key, n, err := decodeKey(body[off:])
		if err != nil {
			return nil, err
		}
		off += n
		val, n, err := decodeValue(body[off:])
		if err != nil {
			return nil, err
		}
		off += n
		m.Set(key, val)
	}
	return m, nil
}

func decodeKey(b []byte) (string, int, error) {
	if len(b) < 2 {
		return "", 0, errTruncated
	}
	klen := int(binary.LittleEndian.Uint16(b[0:2]))
	if len(b) < 2+klen {
		return "", 0, errTruncated
	}
	return string(b[2 : 2+klen]), 2 + klen, nil
}

func decodeValue(b []byte) (Value, int, error) {
	if len(b) < 1 {
		return nil, 0, errTruncated
	}
	tag := b[0]
	switch tag {
	case tagNull:
		return nil, 1, nil
	case tagInt32:
		if len(b) < 5 {
			return nil, 0, errTruncated
		}
		return int32(binary.LittleEndian.Uint32(b[1:5])), 5, nil
	case tagInt64:
		if len(b) < 9 {
			return nil, 0, errTruncated
		}
		return int64(binary.LittleEndian.Uint64(b[1:9])), 9, nil
	case tagUint32:
		if len(b) < 5 {
			return nil, 0, errTruncated
		}
		return binary.LittleEndian.Uint32(b[1:5]), 5, nil
	case tagDouble:
		if len(b) < 9 {
			return nil, 0, errTruncated
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b[1:9])), 9, nil
	case tagBool:
		if len(b) < 2 {
			return nil, 0, errTruncated
		}
		return b[1] != 0, 2, nil
	case tagString:
		if len(b) < 5 {
			return nil, 0, errTruncated
		}
		slen := int(binary.LittleEndian.Uint32(b[1:5]))
		if len(b) < 5+slen {
			return nil, 0, errTruncated
		}
		return string(b[5 : 5+slen]), 5 + slen, nil
	case tagBinary:
		if len(b) < 5 {
			return nil, 0, errTruncated
		}
		blen := int(binary.LittleEndian.Uint32(b[1:5]))
		if len(b) < 5+blen {
			return nil, 0, errTruncated
		}
		out := make([]byte, blen)
		copy(out, b[5:5+blen])
		return out, 5 + blen, nil
	case tagID:
		if len(b) < 13 {
			return nil, 0, errTruncated
		}
		id, _ := IDFromBytes(b[1:13])
		return id, 13, nil
	case tagTimestamp:
		if len(b) < 9 {
			return nil, 0, errTruncated
		}
		ns := int64(binary.LittleEndian.Uint64(b[1:9]))
		return Timestamp(time.Unix(0, ns)), 9, nil
	case tagArray:
		if len(b) < 5 {
			return nil, 0, errTruncated
		}
		alen := int(binary.LittleEndian.Uint32(b[1:5]))
		if len(b) < 5+alen {
			return nil, 0, errTruncated
		}
		body := b[5 : 5+alen]
		var items []Value
		off := 0
		for off < len(body) {
			v, n, err := decodeValue(body[off:])
			if err != nil {
				return nil, 0, err
			}
			items = append(items, v)
			off += n
		}
		return items, 5 + alen, nil
	case tagMessage:
		if len(b) < 5 {
			return nil, 0, errTruncated
		}
		sublen := int(binary.LittleEndian.Uint32(b[1:5]))
		if sublen < MinMessageLen || len(b) < 1+sublen {
			return nil, 0, errTruncated
		}
		sub, err := Decode(b[1 : 1+sublen])
		if err != nil {
			return nil, 0, err
		}
		return sub, 1 + sublen, nil
	default:
		return nil, 0, errUnknownTag
	}
}

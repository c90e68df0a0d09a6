package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"sort"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Value tags in the stored payload encoding. Tags are part of the on-disk
// format and must never be renumbered.
const (
	tagString  byte = 0x01
	tagBool    byte = 0x02
	tagBytes   byte = 0x03
	tagDecimal byte = 0x04
	tagTime    byte = 0x05
	tagMap     byte = 0x06
	tagList    byte = 0x07
)

const (
	// envelopeHeaderSize is CRC32(4) + Flags(1) + Revision(8) + UpdatedAt(8) + PayloadSize(4).
	envelopeHeaderSize = 25

	flagTombstone byte = 0x01
)

// Envelope is the stored form of a record: its payload plus the revision
// counter and last-modified timestamp, or a tombstone.
type Envelope struct {
	Tombstone bool
	Revision  uint64
	UpdatedAt time.Time
	Payload   Payload
}

// RecordCodec encodes and decodes record envelopes. It is stateless and
// safe for concurrent use.
type RecordCodec struct{}

// NewRecordCodec creates a new record codec instance.
func NewRecordCodec() *RecordCodec {
	return &RecordCodec{}
}

// EncodeRecord serializes an envelope into the stored binary format.
// Encoding is deterministic: the same envelope always yields the same
// bytes.
func (c *RecordCodec) EncodeRecord(env Envelope) ([]byte, error) {
	var payload []byte
	if !env.Tombstone {
		var buf bytes.Buffer
		if err := encodePayload(&buf, env.Payload); err != nil {
			return nil, err
		}
		payload = buf.Bytes()
	}

	out := make([]byte, envelopeHeaderSize+len(payload))
	if env.Tombstone {
		out[4] = flagTombstone
	}
	binary.LittleEndian.PutUint64(out[5:], env.Revision)
	binary.LittleEndian.PutUint64(out[13:], uint64(env.UpdatedAt.UTC().UnixNano()))
	binary.LittleEndian.PutUint32(out[21:], uint32(len(payload)))
	copy(out[envelopeHeaderSize:], payload)

	binary.LittleEndian.PutUint32(out[0:], crc32.ChecksumIEEE(out[4:]))
	return out, nil
}

// DecodeRecord deserializes stored bytes back into an envelope. It returns
// ErrCorruptEncoding when the framing or checksum does not match and
// ErrUnsupportedType when the payload contains an unknown value tag.
func (c *RecordCodec) DecodeRecord(data []byte) (*Envelope, error) {
	if len(data) < envelopeHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is too short for an envelope header", ErrCorruptEncoding, len(data))
	}

	sum := binary.LittleEndian.Uint32(data[0:4])
	if actual := crc32.ChecksumIEEE(data[4:]); actual != sum {
		return nil, fmt.Errorf("%w: checksum mismatch (stored %08x, computed %08x)", ErrCorruptEncoding, sum, actual)
	}

	env := &Envelope{
		Tombstone: data[4]&flagTombstone != 0,
		Revision:  binary.LittleEndian.Uint64(data[5:13]),
		UpdatedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(data[13:21]))).UTC(),
	}

	size := binary.LittleEndian.Uint32(data[21:25])
	if int(size) != len(data)-envelopeHeaderSize {
		return nil, fmt.Errorf("%w: payload size %d does not match %d remaining bytes",
			ErrCorruptEncoding, size, len(data)-envelopeHeaderSize)
	}
	if env.Tombstone {
		if size != 0 {
			return nil, fmt.Errorf("%w: tombstone with %d payload bytes", ErrCorruptEncoding, size)
		}
		return env, nil
	}

	r := &payloadReader{data: data[envelopeHeaderSize:]}
	payload, err := decodeMap(r)
	if err != nil {
		return nil, err
	}
	if r.pos != len(r.data) {
		return nil, fmt.Errorf("%w: %d trailing bytes after payload", ErrCorruptEncoding, len(r.data)-r.pos)
	}
	env.Payload = payload
	return env, nil
}

// encodePayload writes the field map in sorted key order so that encoding
// is deterministic.
func encodePayload(buf *bytes.Buffer, p Payload) error {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(names)))
	buf.Write(scratch[:4])

	for _, name := range names {
		if len(name) > math.MaxUint16 {
			return fmt.Errorf("%w: field name longer than %d bytes", ErrUnsupportedType, math.MaxUint16)
		}
		binary.LittleEndian.PutUint16(scratch[:2], uint16(len(name)))
		buf.Write(scratch[:2])
		buf.WriteString(name)
		if err := encodeValue(buf, p[name]); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

func encodeValue(buf *bytes.Buffer, v Value) error {
	var scratch [8]byte
	switch v.kind {
	case KindString:
		buf.WriteByte(tagString)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(v.str)))
		buf.Write(scratch[:4])
		buf.WriteString(v.str)
	case KindBool:
		buf.WriteByte(tagBool)
		if v.b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindBytes:
		buf.WriteByte(tagBytes)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(v.raw)))
		buf.Write(scratch[:4])
		buf.Write(v.raw)
	case KindDecimal:
		return encodeDecimal(buf, v.dec)
	case KindTime:
		buf.WriteByte(tagTime)
		binary.LittleEndian.PutUint64(scratch[:8], uint64(v.ts.UnixNano()))
		buf.Write(scratch[:8])
	case KindMap:
		buf.WriteByte(tagMap)
		return encodePayload(buf, v.m)
	case KindList:
		buf.WriteByte(tagList)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(v.list)))
		buf.Write(scratch[:4])
		for i, item := range v.list {
			if err := encodeValue(buf, item); err != nil {
				return fmt.Errorf("list index %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("%w: kind %v", ErrUnsupportedType, v.kind)
	}
	return nil
}

// encodeDecimal writes sign and exponent followed by the big-endian
// coefficient bytes, so no decimal value loses precision or scale.
func encodeDecimal(buf *bytes.Buffer, d *apd.Decimal) error {
	if d == nil || d.Form != apd.Finite {
		return fmt.Errorf("%w: non-finite decimal", ErrUnsupportedType)
	}
	buf.WriteByte(tagDecimal)
	var flags byte
	if d.Negative {
		flags = 0x01
	}
	buf.WriteByte(flags)

	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(d.Exponent))
	buf.Write(scratch[:])

	coeff := d.Coeff.MathBigInt().Bytes()
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(coeff)))
	buf.Write(scratch[:])
	buf.Write(coeff)
	return nil
}

// payloadReader is a bounds-checked cursor over payload bytes.
type payloadReader struct {
	data []byte
	pos  int
}

func (r *payloadReader) remaining() int {
	return len(r.data) - r.pos
}

func (r *payloadReader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, fmt.Errorf("%w: truncated payload (need %d bytes at offset %d of %d)",
			ErrCorruptEncoding, n, r.pos, len(r.data))
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *payloadReader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *payloadReader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *payloadReader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// minFieldSize is the smallest encoded map field: a 2-byte name length,
// an empty name and a bool value (tag plus one byte).
const minFieldSize = 4

// minElementSize is the smallest encoded list element, a bool.
const minElementSize = 2

func decodeMap(r *payloadReader) (Payload, error) {
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}
	// The count is untrusted until the fields behind it decode; reject
	// claims the remaining bytes cannot possibly hold before allocating.
	if int64(count)*minFieldSize > int64(r.remaining()) {
		return nil, fmt.Errorf("%w: field count %d exceeds %d remaining bytes",
			ErrCorruptEncoding, count, r.remaining())
	}
	p := make(Payload, count)
	for i := uint32(0); i < count; i++ {
		nameLen, err := r.uint16()
		if err != nil {
			return nil, err
		}
		name, err := r.take(int(nameLen))
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(r)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", string(name), err)
		}
		p[string(name)] = v
	}
	return p, nil
}

func decodeValue(r *payloadReader) (Value, error) {
	tag, err := r.take(1)
	if err != nil {
		return Value{}, err
	}
	switch tag[0] {
	case tagString:
		n, err := r.uint32()
		if err != nil {
			return Value{}, err
		}
		b, err := r.take(int(n))
		if err != nil {
			return Value{}, err
		}
		return String(string(b)), nil
	case tagBool:
		b, err := r.take(1)
		if err != nil {
			return Value{}, err
		}
		return Bool(b[0] != 0), nil
	case tagBytes:
		n, err := r.uint32()
		if err != nil {
			return Value{}, err
		}
		b, err := r.take(int(n))
		if err != nil {
			return Value{}, err
		}
		out := make([]byte, n)
		copy(out, b)
		return Bytes(out), nil
	case tagDecimal:
		return decodeDecimal(r)
	case tagTime:
		nanos, err := r.uint64()
		if err != nil {
			return Value{}, err
		}
		return Time(time.Unix(0, int64(nanos)).UTC()), nil
	case tagMap:
		m, err := decodeMap(r)
		if err != nil {
			return Value{}, err
		}
		return Map(m), nil
	case tagList:
		count, err := r.uint32()
		if err != nil {
			return Value{}, err
		}
		if int64(count)*minElementSize > int64(r.remaining()) {
			return Value{}, fmt.Errorf("%w: element count %d exceeds %d remaining bytes",
				ErrCorruptEncoding, count, r.remaining())
		}
		items := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			item, err := decodeValue(r)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("%w: tag 0x%02x", ErrUnsupportedType, tag[0])
	}
}

func decodeDecimal(r *payloadReader) (Value, error) {
	flags, err := r.take(1)
	if err != nil {
		return Value{}, err
	}
	exp, err := r.uint32()
	if err != nil {
		return Value{}, err
	}
	coeffLen, err := r.uint32()
	if err != nil {
		return Value{}, err
	}
	coeffBytes, err := r.take(int(coeffLen))
	if err != nil {
		return Value{}, err
	}

	var coeff apd.BigInt
	coeff.SetBytes(coeffBytes)
	d := apd.NewWithBigInt(&coeff, int32(exp))
	d.Negative = flags[0]&0x01 != 0
	return Decimal(d), nil
}

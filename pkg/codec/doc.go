// Package codec converts typed record payloads to and from their stored
// byte encoding and the JSON interchange encoding used by the API layer.
//
// # Value Model
//
// A payload is a mapping from field name to Value. A Value is one of:
// string, bool, binary blob, exact-precision decimal, timestamp, nested
// payload, or an ordered list of values. Decimals preserve their scale
// exactly (12.340 and 12.34 are distinct values), timestamps preserve
// sub-second precision and are normalized to UTC.
//
// # Stored Format
//
// Encoded records are framed as:
//
//	[CRC32(4)][Flags(1)][Revision(8)][UpdatedAt(8)][PayloadSize(4)][Payload]
//
// All integers are little-endian. The CRC32 checksum covers every byte
// after the CRC field itself, so corruption anywhere in the header or
// payload is detected on decode. Flags bit 0 marks a tombstone; tombstones
// carry no payload bytes.
//
// Payload bytes are a deterministic tag-length encoding: map fields are
// written in sorted key order, so encoding the same payload always yields
// the same bytes. decode(encode(p)) returns a payload equal to p for every
// well-formed payload.
//
// # JSON Interchange
//
// EncodeJSON/DecodeJSON implement the human-readable encoding used for API
// responses and imports. Types that JSON cannot represent natively are
// wrapped in single-key objects: {"$dec": "12.340"}, {"$time": "..."},
// {"$bin": "<base64>"}. Field names beginning with "$" are reserved for
// these wrappers. Plain JSON numbers decode as exact decimals, so payloads
// fetched from external sources never pass through a float64.
//
// # Errors
//
// Decode failures return ErrCorruptEncoding (bad framing, checksum
// mismatch, truncated data) or ErrUnsupportedType (a value kind the codec
// does not recognize). Encoding rejects non-finite decimals with
// ErrUnsupportedType before any bytes are produced.
package codec

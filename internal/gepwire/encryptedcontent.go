// Package gepwire implements the TLV wire codec for the EncryptedContent
// structure and the two-child D-KEY content sequence described in
// spec.md §3/§4.2/§6. The format is preserved bit-exact across encode/parse
// round-trips; it is not JSON or any other general-purpose serialization,
// matching "the bit-exact wire format is preserved as consumed from the
// source system."
package gepwire

import (
	"encoding/binary"
	"fmt"

	"github.com/kenneth/ndn-group-encrypt/internal/gepname"
	"github.com/kenneth/ndn-group-encrypt/internal/geperrors"
)

// Algorithm identifies the symmetric/asymmetric scheme protecting payload,
// per spec.md §6's stable integer values.
type Algorithm uint8

const (
	AlgorithmAESCBC  Algorithm = 0
	AlgorithmRSAPKCS Algorithm = 1
	AlgorithmRSAOAEP Algorithm = 2
)

// TLV type numbers for EncryptedContent fields.
const (
	tlvAlgorithm  = 0x01
	tlvKeyLocator = 0x02
	tlvIV         = 0x03
	tlvPayload    = 0x04
)

// EncryptedContent is the wire struct of spec.md §3/§6:
// {algorithm-id, key-locator, initial-vector?, payload}.
type EncryptedContent struct {
	Algorithm  Algorithm
	KeyLocator gepname.Name
	IV         []byte // present iff Algorithm == AlgorithmAESCBC
	Payload    []byte
}

// Encode renders ec as a TLV byte sequence. Total: never returns an error
// for a well-formed struct (callers build EncryptedContent values directly,
// there is no invalid construction to reject on encode).
func Encode(ec *EncryptedContent) []byte {
	var out []byte
	out = appendTLV(out, tlvAlgorithm, []byte{byte(ec.Algorithm)})
	out = appendTLV(out, tlvKeyLocator, encodeName(ec.KeyLocator))
	if ec.Algorithm == AlgorithmAESCBC {
		out = appendTLV(out, tlvIV, ec.IV)
	}
	out = appendTLV(out, tlvPayload, ec.Payload)
	return out
}

// Parse decodes a TLV byte sequence into an EncryptedContent. Total on
// well-formed input; returns an InvalidEncryptedFormat error otherwise.
func Parse(data []byte) (*EncryptedContent, error) {
	ec := &EncryptedContent{}
	haveAlgorithm, havePayload := false, false

	rest := data
	for len(rest) > 0 {
		typ, val, tail, err := readTLV(rest)
		if err != nil {
			return nil, err
		}
		rest = tail

		switch typ {
		case tlvAlgorithm:
			if len(val) != 1 {
				return nil, geperrors.New(geperrors.InvalidEncryptedFormat, "algorithm-id must be 1 byte")
			}
			ec.Algorithm = Algorithm(val[0])
			haveAlgorithm = true
		case tlvKeyLocator:
			name, err := decodeName(val)
			if err != nil {
				return nil, err
			}
			ec.KeyLocator = name
		case tlvIV:
			ec.IV = append([]byte{}, val...)
		case tlvPayload:
			ec.Payload = append([]byte{}, val...)
			havePayload = true
		default:
			return nil, geperrors.New(geperrors.InvalidEncryptedFormat, fmt.Sprintf("unknown TLV type %d", typ))
		}
	}

	if !haveAlgorithm || !havePayload {
		return nil, geperrors.New(geperrors.InvalidEncryptedFormat, "missing required field")
	}
	if ec.Algorithm == AlgorithmAESCBC && len(ec.IV) != 16 {
		return nil, geperrors.New(geperrors.InvalidEncryptedFormat, "AES-CBC requires a 16-byte initial vector")
	}
	return ec, nil
}

// EncodeDKeyContent builds the D-KEY content TLV: exactly two
// EncryptedContent children, encrypted nonce followed by encrypted payload,
// per spec.md §6.
func EncodeDKeyContent(nonce, payload *EncryptedContent) []byte {
	var out []byte
	out = appendTLV(out, tlvPayload, Encode(nonce))
	out = appendTLV(out, tlvPayload, Encode(payload))
	return out
}

// ParseDKeyContent decodes the two-child D-KEY content sequence. Rejects
// with InvalidEncryptedFormat if the child count is not exactly two, per
// spec.md §4.6 step for decrypt_d_key.
func ParseDKeyContent(data []byte) (nonce, payload *EncryptedContent, err error) {
	var children [][]byte
	rest := data
	for len(rest) > 0 {
		typ, val, tail, err := readTLV(rest)
		if err != nil {
			return nil, nil, err
		}
		if typ != tlvPayload {
			return nil, nil, geperrors.New(geperrors.InvalidEncryptedFormat, "D-KEY content child must be type payload")
		}
		children = append(children, val)
		rest = tail
	}
	if len(children) != 2 {
		return nil, nil, geperrors.New(geperrors.InvalidEncryptedFormat,
			fmt.Sprintf("D-KEY content must have exactly two children, got %d", len(children)))
	}
	nonce, err = Parse(children[0])
	if err != nil {
		return nil, nil, err
	}
	payload, err = Parse(children[1])
	if err != nil {
		return nil, nil, err
	}
	return nonce, payload, nil
}

func appendTLV(out []byte, typ byte, val []byte) []byte {
	out = append(out, typ)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(val)))
	out = append(out, lenBuf[:]...)
	out = append(out, val...)
	return out
}

func readTLV(data []byte) (typ byte, val []byte, rest []byte, err error) {
	if len(data) < 5 {
		return 0, nil, nil, geperrors.New(geperrors.InvalidEncryptedFormat, "truncated TLV header")
	}
	typ = data[0]
	length := binary.BigEndian.Uint32(data[1:5])
	if uint64(5)+uint64(length) > uint64(len(data)) {
		return 0, nil, nil, geperrors.New(geperrors.InvalidEncryptedFormat, "truncated TLV value")
	}
	val = data[5 : 5+length]
	rest = data[5+length:]
	return typ, val, rest, nil
}

func encodeName(n gepname.Name) []byte {
	var out []byte
	for i := 0; i < n.Len(); i++ {
		c := []byte(n.At(i))
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(c)))
		out = append(out, lenBuf[:]...)
		out = append(out, c...)
	}
	return out
}

func decodeName(data []byte) (gepname.Name, error) {
	var segs []string
	rest := data
	for len(rest) > 0 {
		if len(rest) < 4 {
			return gepname.Name{}, geperrors.New(geperrors.InvalidEncryptedFormat, "truncated name component length")
		}
		l := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint64(l) > uint64(len(rest)) {
			return gepname.Name{}, geperrors.New(geperrors.InvalidEncryptedFormat, "truncated name component value")
		}
		segs = append(segs, string(rest[:l]))
		rest = rest[l:]
	}
	return gepname.New(segs...), nil
}

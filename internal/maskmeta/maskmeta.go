// Package maskmeta defines the restoration metadata that travels between a
// mask call and the matching restore call, and its two wire encodings.
//
// Metadata is the only state that must survive the round trip through the
// external text processor, so both encodings are stable formats:
//
//   - UTF-8 JSON: {"placeholdersMap": {token: original}, "language": tag},
//     optionally base64-wrapped for embedding in text-oriented transports.
//   - A compact binary record (magic + version + uvarint length-prefixed
//     blocks) for high-throughput or native-boundary use.
//
// Both round-trip arbitrary UTF-8 keys and values byte-for-byte, including
// quotes and control characters.
package maskmeta

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
)

// Meta is the reversible placeholder → original mapping plus the language
// tag the masking call resolved. It has no shared mutable state and may be
// passed freely across goroutines once produced.
type Meta struct {
	Placeholders map[string]string `json:"placeholdersMap"`
	Language     string            `json:"language"`
}

// Empty returns a Meta with an initialized, empty mapping.
func Empty() Meta {
	return Meta{Placeholders: map[string]string{}}
}

// binary format framing
var binMagic = []byte{'P', 'I', 'I', 'M'}

const binVersion = 1

// EncodeJSON serializes m as a UTF-8 JSON object.
func EncodeJSON(m Meta) ([]byte, error) {
	if m.Placeholders == nil {
		m.Placeholders = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode mask metadata: %w", err)
	}
	return data, nil
}

// EncodeBase64 serializes m as JSON wrapped in standard base64, safe to
// embed in headers, URLs with escaping, or other text-only channels.
func EncodeBase64(m Meta) (string, error) {
	data, err := EncodeJSON(m)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeBinary serializes m as the length-prefixed binary record.
// Pairs are written in sorted key order so encoding is deterministic.
func EncodeBinary(m Meta) []byte {
	var buf bytes.Buffer
	buf.Write(binMagic)
	buf.WriteByte(binVersion)
	writeBlock(&buf, []byte(m.Language))

	keys := make([]string, 0, len(m.Placeholders))
	for k := range m.Placeholders {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var n [binary.MaxVarintLen64]byte
	buf.Write(n[:binary.PutUvarint(n[:], uint64(len(keys)))])
	for _, k := range keys {
		writeBlock(&buf, []byte(k))
		writeBlock(&buf, []byte(m.Placeholders[k]))
	}
	return buf.Bytes()
}

// Decode parses metadata in any supported form: the binary record, plain
// JSON, or base64-wrapped JSON. Malformed input yields an empty mapping and
// an error — restoration degrades to best-effort instead of aborting, so
// callers log the error and continue.
func Decode(data []byte) (Meta, error) {
	if len(data) == 0 {
		return Empty(), nil
	}
	if bytes.HasPrefix(data, binMagic) {
		return decodeBinary(data)
	}
	if m, err := decodeJSON(data); err == nil {
		return m, nil
	}
	raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return Empty(), fmt.Errorf("mask metadata is neither binary, JSON, nor base64")
	}
	if bytes.HasPrefix(raw, binMagic) {
		return decodeBinary(raw)
	}
	m, err := decodeJSON(raw)
	if err != nil {
		return Empty(), fmt.Errorf("decode base64 mask metadata: %w", err)
	}
	return m, nil
}

func decodeJSON(data []byte) (Meta, error) {
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Empty(), err
	}
	if m.Placeholders == nil {
		m.Placeholders = map[string]string{}
	}
	return m, nil
}

func decodeBinary(data []byte) (Meta, error) {
	r := bytes.NewReader(data[len(binMagic):])
	version, err := r.ReadByte()
	if err != nil || version != binVersion {
		return Empty(), fmt.Errorf("unsupported mask metadata version")
	}
	lang, err := readBlock(r)
	if err != nil {
		return Empty(), fmt.Errorf("decode mask metadata language: %w", err)
	}
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return Empty(), fmt.Errorf("decode mask metadata pair count: %w", err)
	}
	m := Meta{Placeholders: make(map[string]string, count), Language: string(lang)}
	for i := uint64(0); i < count; i++ {
		k, err := readBlock(r)
		if err != nil {
			return Empty(), fmt.Errorf("decode mask metadata key %d: %w", i, err)
		}
		v, err := readBlock(r)
		if err != nil {
			return Empty(), fmt.Errorf("decode mask metadata value %d: %w", i, err)
		}
		m.Placeholders[string(k)] = string(v)
	}
	return m, nil
}

func writeBlock(buf *bytes.Buffer, b []byte) {
	var n [binary.MaxVarintLen64]byte
	buf.Write(n[:binary.PutUvarint(n[:], uint64(len(b)))])
	buf.Write(b)
}

func readBlock(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("block length %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

package icy

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// Well known metadata keys.
const (
	StreamTitle = "StreamTitle"
	StreamURL   = "StreamUrl"
)

// Metadata is an ordered set of ICY metadata fields.
type Metadata struct {
	keys   []string
	values map[string]string
}

// NewMetadata returns metadata holding the given key/value pairs in order.
// A trailing key without a value is ignored.
func NewMetadata(kv ...string) *Metadata {
	m := &Metadata{values: make(map[string]string)}
	for i := 0; i+1 < len(kv); i += 2 {
		m.Set(kv[i], kv[i+1])
	}
	return m
}

// Title returns metadata carrying only a StreamTitle.
func Title(title string) *Metadata {
	return NewMetadata(StreamTitle, title)
}

// Set stores value under key. An existing key keeps its position.
func (m *Metadata) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value stored under key.
func (m *Metadata) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *Metadata) Keys() []string {
	if m == nil || len(m.keys) == 0 {
		return nil
	}
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// Len returns the number of fields.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// StreamTitle returns the StreamTitle field.
func (m *Metadata) StreamTitle() string {
	v, _ := m.Get(StreamTitle)
	return v
}

// StreamURL returns the StreamUrl field.
func (m *Metadata) StreamURL() string {
	v, _ := m.Get(StreamURL)
	return v
}

// Equal reports whether both hold the same fields in the same order.
func (m *Metadata) Equal(other *Metadata) bool {
	if m == nil || other == nil {
		return m == other
	}
	if len(m.keys) != len(other.keys) {
		return false
	}
	for i, k := range m.keys {
		if other.keys[i] != k || other.values[k] != m.values[k] {
			return false
		}
	}
	return true
}

// Map returns the fields as a plain map.
func (m *Metadata) Map() map[string]string {
	out := make(map[string]string, m.Len())
	for _, k := range m.Keys() {
		out[k] = m.values[k]
	}
	return out
}

// String returns the serialized form.
func (m *Metadata) String() string {
	return Serialize(m)
}

// Parse decodes a UTF-8 metadata block. Trailing NUL padding is ignored and
// segments without a key='value' delimiter are skipped.
func Parse(raw []byte) *Metadata {
	m := NewMetadata()

	text := string(bytes.TrimRight(raw, "\x00"))
	for _, piece := range strings.Split(text, ";") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}

		idx, quote := delimiter(piece)
		if idx < 0 {
			continue
		}
		key := piece[:idx]
		value := piece[idx+2:]
		if end := strings.LastIndexByte(value, quote); end >= 0 {
			value = value[:end]
		}
		m.Set(key, value)
	}

	return m
}

// delimiter finds the first =' or =" in s.
func delimiter(s string) (int, byte) {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '=' && (s[i+1] == '\'' || s[i+1] == '"') {
			return i, s[i+1]
		}
	}
	return -1, 0
}

// ParseEncoded transcodes raw from enc to UTF-8 and parses it. A nil enc is
// treated as UTF-8.
func ParseEncoded(raw []byte, enc encoding.Encoding) (*Metadata, error) {
	if enc == nil {
		return Parse(raw), nil
	}
	decoded, err := enc.NewDecoder().Bytes(bytes.TrimRight(raw, "\x00"))
	if err != nil {
		return nil, errors.Wrap(err, "decode metadata")
	}
	return Parse(decoded), nil
}

// LookupEncoding resolves an IANA charset name such as "ISO-8859-1" or
// "windows-1252". An empty name or UTF-8 returns nil.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "unknown charset %q", name)
	}
	if enc == nil {
		return nil, errors.Wrapf(ErrConfiguration, "unsupported charset %q", name)
	}
	return enc, nil
}

// Serialize renders m as key='value'; pairs in key order. Quotes inside
// values are not escaped, so such values do not survive a Parse.
func Serialize(m *Metadata) string {
	var sb strings.Builder
	for _, k := range m.Keys() {
		sb.WriteString(k)
		sb.WriteString("='")
		sb.WriteString(m.values[k])
		sb.WriteString("';")
	}
	return sb.String()
}

// EncodeBlock returns the wire form of m: the length byte followed by the
// serialized text padded with NULs to a multiple of BlockSize.
func EncodeBlock(m *Metadata) ([]byte, error) {
	if m == nil {
		return nil, errors.Wrap(ErrValidation, "metadata is nil")
	}
	if _, ok := m.Get(StreamTitle); !ok {
		return nil, errors.Wrapf(ErrValidation, "a %q field is required", StreamTitle)
	}

	text := Serialize(m)
	if len(text) > MaxPayload {
		return nil, errors.Wrapf(ErrValidation, "metadata must be <= %d bytes, got %d", MaxPayload, len(text))
	}

	blocks := (len(text) + BlockSize - 1) / BlockSize
	buf := make([]byte, 1+blocks*BlockSize)
	buf[0] = byte(blocks)
	copy(buf[1:], text)
	return buf, nil
}

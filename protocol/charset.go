package protocol

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// Charset converts between a hub's legacy byte encoding and UTF-8. The
// tokenized dialect is always UTF-8; the text dialect carries whatever the
// hub was configured with, CP1252 on most installations.
type Charset struct {
	name string
	enc  encoding.Encoding
}

// UTF8 is the identity charset. Conversions validate but do not transform.
var UTF8 = &Charset{name: "UTF-8"}

// NewCharset resolves an IANA charset name. An empty name or any spelling of
// UTF-8 yields the identity charset.
func NewCharset(name string) (*Charset, error) {
	if name == "" || name == "UTF-8" || name == "utf-8" || name == "utf8" {
		return UTF8, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("protocol: unknown charset %q", name)
	}
	return &Charset{name: name, enc: enc}, nil
}

func (c *Charset) Name() string { return c.name }

// ToUTF8 decodes a raw line received from the hub. Undecodable input is an
// error so the session can discard the line rather than corrupt the
// directory.
func (c *Charset) ToUTF8(raw string) (string, error) {
	if c.enc == nil {
		if !utf8.ValidString(raw) {
			return "", fmt.Errorf("protocol: invalid UTF-8 input")
		}
		return raw, nil
	}
	out, _, err := transform.String(c.enc.NewDecoder(), raw)
	if err != nil {
		return "", fmt.Errorf("protocol: decode %s: %w", c.name, err)
	}
	return out, nil
}

// FromUTF8 encodes an outgoing line. Runes outside the hub charset fail the
// conversion instead of being silently replaced.
func (c *Charset) FromUTF8(s string) (string, error) {
	if c.enc == nil {
		if !utf8.ValidString(s) {
			return "", fmt.Errorf("protocol: invalid UTF-8 input")
		}
		return s, nil
	}
	out, _, err := transform.String(c.enc.NewEncoder(), s)
	if err != nil {
		return "", fmt.Errorf("protocol: encode %s: %w", c.name, err)
	}
	return out, nil
}

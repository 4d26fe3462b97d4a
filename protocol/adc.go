package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// The tokenized dialect frames messages with '\n'. A message is a type
// letter glued to a three-letter verb, then space-separated positional
// fields and KEYvalue named parameters. The whole stream is UTF-8.

// ErrBadEscape is returned for escape sequences other than \s, \n and \\.
var ErrBadEscape = errors.New("protocol: invalid escape sequence")

// EscapeADC encodes a parameter value for the tokenized dialect.
func EscapeADC(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ':
			b.WriteString(`\s`)
		case '\n':
			b.WriteString(`\n`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// UnescapeADC decodes a parameter value. Any escape outside the dialect's
// three sequences fails the whole message.
func UnescapeADC(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", ErrBadEscape
		}
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case '\\':
			b.WriteByte('\\')
		default:
			return "", fmt.Errorf("%w: \\%c", ErrBadEscape, s[i])
		}
	}
	return b.String(), nil
}

// SID is a four-character session identifier assigned by the hub.
type SID string

// ValidSID reports whether s is four characters of the base32 alphabet.
func ValidSID(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z' || c >= '2' && c <= '7') {
			return false
		}
	}
	return true
}

// ADCMessage is one parsed or under-construction message of the tokenized
// dialect. Params hold unescaped KEYvalue strings in wire order.
type ADCMessage struct {
	Type   byte
	Cmd    string
	Source SID
	Dest   SID
	Params []string
}

// NewADCMessage starts an outgoing message. Source is ignored for types
// without a source field.
func NewADCMessage(typ byte, cmd string, source SID) *ADCMessage {
	return &ADCMessage{Type: typ, Cmd: cmd, Source: source}
}

// Add appends a named parameter.
func (m *ADCMessage) Add(key, value string) *ADCMessage {
	m.Params = append(m.Params, key+value)
	return m
}

// Param returns the value of the first parameter with the given two-letter
// key.
func (m *ADCMessage) Param(key string) (string, bool) {
	for _, p := range m.Params {
		if len(p) >= 2 && p[:2] == key {
			return p[2:], true
		}
	}
	return "", false
}

// ParamAfter returns the value of the first parameter with the given key at
// or after index from, along with the index following it. It exists for
// fields that may legitimately repeat.
func (m *ADCMessage) ParamAfter(key string, from int) (string, int, bool) {
	for i := from; i < len(m.Params); i++ {
		if len(m.Params[i]) >= 2 && m.Params[i][:2] == key {
			return m.Params[i][2:], i + 1, true
		}
	}
	return "", len(m.Params), false
}

// Positional reports the parameter at index i, for verbs with positional
// fields such as STA codes and MSG text.
func (m *ADCMessage) Positional(i int) (string, bool) {
	if i < 0 || i >= len(m.Params) {
		return "", false
	}
	return m.Params[i], true
}

// String renders the message without the trailing newline.
func (m *ADCMessage) String() string {
	var b strings.Builder
	b.WriteByte(m.Type)
	b.WriteString(m.Cmd)
	switch m.Type {
	case 'B', 'F':
		b.WriteByte(' ')
		b.WriteString(string(m.Source))
	case 'D', 'E':
		b.WriteByte(' ')
		b.WriteString(string(m.Source))
		b.WriteByte(' ')
		b.WriteString(string(m.Dest))
	}
	for _, p := range m.Params {
		b.WriteByte(' ')
		b.WriteString(EscapeADC(p))
	}
	return b.String()
}

// ParseADC tokenizes one line of the tokenized dialect. The trailing newline
// must already be stripped. Empty lines are keepalives and return nil.
func ParseADC(line string) (*ADCMessage, error) {
	if line == "" {
		return nil, nil
	}
	fields := strings.Split(line, " ")
	head := fields[0]
	if len(head) != 4 {
		return nil, fmt.Errorf("protocol: bad message head %q", head)
	}
	m := &ADCMessage{Type: head[0], Cmd: head[1:]}
	rest := fields[1:]
	switch m.Type {
	case 'B', 'F':
		if len(rest) < 1 || !ValidSID(rest[0]) {
			return nil, fmt.Errorf("protocol: %s: missing source sid", head)
		}
		m.Source = SID(rest[0])
		rest = rest[1:]
	case 'D', 'E':
		if len(rest) < 2 || !ValidSID(rest[0]) || !ValidSID(rest[1]) {
			return nil, fmt.Errorf("protocol: %s: missing sids", head)
		}
		m.Source = SID(rest[0])
		m.Dest = SID(rest[1])
		rest = rest[2:]
	case 'I', 'H', 'U', 'C':
	default:
		return nil, fmt.Errorf("protocol: unknown message type %q", m.Type)
	}
	for _, f := range rest {
		p, err := UnescapeADC(f)
		if err != nil {
			return nil, fmt.Errorf("protocol: %s: %w", head, err)
		}
		m.Params = append(m.Params, p)
	}
	return m, nil
}

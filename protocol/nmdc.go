package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// The text dialect frames every message with a trailing '|'. Commands start
// with '$'; anything else is main chat. Parsing is a closed set of explicit
// tokenizers, one per verb. Unknown or malformed commands come back as
// Invalid so the session can log and drop them without tearing down the
// connection.

// EscapeNMDC replaces the three reserved characters in user-supplied text.
func EscapeNMDC(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "$", "&#36;")
	s = strings.ReplaceAll(s, "|", "&#124;")
	return s
}

// UnescapeNMDC reverses EscapeNMDC. Unrecognized entities pass through
// unchanged.
func UnescapeNMDC(s string) string {
	s = strings.ReplaceAll(s, "&#36;", "$")
	s = strings.ReplaceAll(s, "&#124;", "|")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}

// NMDCCommand is one parsed message of the text dialect.
type NMDCCommand interface{ nmdcCommand() }

// Chat is an unprefixed main-chat line, "<nick> text" or bare text.
type Chat struct {
	Nick string
	Text string
}

// MyNick opens the client-client handshake.
type MyNick struct{ Nick string }

// Lock carries the handshake challenge. PK is informational.
type Lock struct {
	Lock string
	PK   string
}

// Key answers a Lock challenge.
type Key struct{ Key string }

// Supports lists extension names.
type Supports struct{ Extensions []string }

// Hello confirms login or announces a joining user.
type Hello struct{ Nick string }

// Quit announces a leaving user.
type Quit struct{ Nick string }

// NickList enumerates online users.
type NickList struct{ Nicks []string }

// OpList enumerates hub operators.
type OpList struct{ Nicks []string }

// MyINFO carries a user's unparsed info string.
type MyINFO struct {
	Nick string
	Info string
}

// HubName sets the hub's display name.
type HubName struct{ Name string }

// PrivateMessage is a $To: private chat line.
type PrivateMessage struct {
	To   string
	From string
	Text string
}

// ForceMove redirects the client to another hub address.
type ForceMove struct{ Address string }

// ConnectToMe asks us to dial a peer at Address on behalf of Target.
type ConnectToMe struct {
	Target  string
	Address string
}

// RevConnectToMe asks us to initiate the connection because the sender is
// passive.
type RevConnectToMe struct {
	From   string
	Target string
}

// SearchRequest is an incoming search. Origin is either "Hub:<nick>" for a
// passive requester relayed by the hub, or "ip:port" for a direct UDP reply.
type SearchRequest struct {
	Origin         string
	SizeRestricted bool
	IsMaxSize      bool
	Size           uint64
	Kind           int
	Query          string
}

// Direction is the upload/download negotiation from a peer.
type Direction struct {
	Upload bool
	Number int
}

// ADCGet requests a byte range of a file or leaf data.
type ADCGet struct {
	Type  string
	Path  string
	Start uint64
	// Length is -1 for "to end of file".
	Length int64
}

// ADCSend acknowledges an ADCGet.
type ADCSend struct {
	Type   string
	Path   string
	Start  uint64
	Length int64
}

// PeerError is a $Error report from a peer.
type PeerError struct{ Text string }

// MaxedOut signals the peer has no free slots.
type MaxedOut struct{}

// GetPass asks for the hub password.
type GetPass struct{}

// BadPass rejects the supplied password.
type BadPass struct{}

// ValidateDenied rejects the chosen nick.
type ValidateDenied struct{}

// HubIsFull rejects the login because the hub is at capacity.
type HubIsFull struct{}

// SearchResult is an incoming $SR line.
type SearchResult struct {
	Nick string
	Raw  string
}

// Invalid wraps anything the tokenizers could not place.
type Invalid struct {
	Raw    string
	Reason string
}

func (Chat) nmdcCommand()           {}
func (MyNick) nmdcCommand()         {}
func (Lock) nmdcCommand()           {}
func (Key) nmdcCommand()            {}
func (Supports) nmdcCommand()       {}
func (Hello) nmdcCommand()          {}
func (Quit) nmdcCommand()           {}
func (NickList) nmdcCommand()       {}
func (OpList) nmdcCommand()         {}
func (MyINFO) nmdcCommand()         {}
func (HubName) nmdcCommand()        {}
func (PrivateMessage) nmdcCommand() {}
func (ForceMove) nmdcCommand()      {}
func (ConnectToMe) nmdcCommand()    {}
func (RevConnectToMe) nmdcCommand() {}
func (SearchRequest) nmdcCommand()  {}
func (Direction) nmdcCommand()      {}
func (ADCGet) nmdcCommand()         {}
func (ADCSend) nmdcCommand()        {}
func (PeerError) nmdcCommand()      {}
func (MaxedOut) nmdcCommand()       {}
func (GetPass) nmdcCommand()        {}
func (BadPass) nmdcCommand()        {}
func (ValidateDenied) nmdcCommand() {}
func (HubIsFull) nmdcCommand()      {}
func (SearchResult) nmdcCommand()   {}
func (Invalid) nmdcCommand()        {}

func invalid(raw, reason string) NMDCCommand {
	return Invalid{Raw: raw, Reason: reason}
}

// ParseNMDC tokenizes one line of the text dialect. The trailing '|' must
// already be stripped. The line must already be converted to UTF-8.
func ParseNMDC(line string) NMDCCommand {
	if !strings.HasPrefix(line, "$") {
		return parseChat(line)
	}
	verb, rest, _ := strings.Cut(line[1:], " ")
	switch verb {
	case "MyNick":
		if rest == "" {
			return invalid(line, "empty nick")
		}
		return MyNick{Nick: UnescapeNMDC(rest)}
	case "Lock":
		lock, pk, _ := strings.Cut(rest, " Pk=")
		if lock == "" {
			return invalid(line, "empty lock")
		}
		return Lock{Lock: lock, PK: pk}
	case "Key":
		return Key{Key: rest}
	case "Supports":
		return Supports{Extensions: strings.Fields(rest)}
	case "Hello":
		if rest == "" {
			return invalid(line, "empty nick")
		}
		return Hello{Nick: UnescapeNMDC(rest)}
	case "Quit":
		if rest == "" {
			return invalid(line, "empty nick")
		}
		return Quit{Nick: UnescapeNMDC(rest)}
	case "NickList":
		return NickList{Nicks: splitNickList(rest)}
	case "OpList":
		return OpList{Nicks: splitNickList(rest)}
	case "MyINFO":
		return parseMyINFO(line, rest)
	case "HubName":
		return HubName{Name: UnescapeNMDC(rest)}
	case "To:":
		return parsePrivateMessage(line, rest)
	case "ForceMove":
		if rest == "" {
			return invalid(line, "empty address")
		}
		return ForceMove{Address: rest}
	case "ConnectToMe":
		target, addr, ok := strings.Cut(rest, " ")
		if !ok || target == "" || addr == "" {
			return invalid(line, "want target and address")
		}
		return ConnectToMe{Target: UnescapeNMDC(target), Address: addr}
	case "RevConnectToMe":
		from, target, ok := strings.Cut(rest, " ")
		if !ok || from == "" || target == "" {
			return invalid(line, "want two nicks")
		}
		return RevConnectToMe{From: UnescapeNMDC(from), Target: UnescapeNMDC(target)}
	case "Search":
		return parseSearch(line, rest)
	case "Direction":
		dir, num, ok := strings.Cut(rest, " ")
		if !ok || (dir != "Upload" && dir != "Download") {
			return invalid(line, "bad direction")
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return invalid(line, "bad direction number")
		}
		return Direction{Upload: dir == "Upload", Number: n}
	case "ADCGET":
		return parseADCGet(line, rest, false)
	case "ADCSND":
		return parseADCGet(line, rest, true)
	case "Error":
		return PeerError{Text: rest}
	case "MaxedOut":
		return MaxedOut{}
	case "GetPass":
		return GetPass{}
	case "BadPass":
		return BadPass{}
	case "ValidateDenide":
		return ValidateDenied{}
	case "HubIsFull":
		return HubIsFull{}
	case "SR":
		nick, raw, ok := strings.Cut(rest, " ")
		if !ok || nick == "" {
			return invalid(line, "want nick and result")
		}
		return SearchResult{Nick: UnescapeNMDC(nick), Raw: raw}
	default:
		return invalid(line, "unknown command")
	}
}

func parseChat(line string) NMDCCommand {
	if strings.HasPrefix(line, "<") {
		if nick, text, ok := strings.Cut(line[1:], "> "); ok {
			return Chat{Nick: UnescapeNMDC(nick), Text: UnescapeNMDC(text)}
		}
	}
	return Chat{Text: UnescapeNMDC(line)}
}

func splitNickList(s string) []string {
	var nicks []string
	for _, n := range strings.Split(s, "$$") {
		if n != "" {
			nicks = append(nicks, UnescapeNMDC(n))
		}
	}
	return nicks
}

func parseMyINFO(line, rest string) NMDCCommand {
	// $MyINFO $ALL <nick> <info>
	if !strings.HasPrefix(rest, "$ALL ") {
		return invalid(line, "want $ALL")
	}
	nick, info, ok := strings.Cut(rest[len("$ALL "):], " ")
	if !ok || nick == "" {
		return invalid(line, "want nick and info")
	}
	return MyINFO{Nick: UnescapeNMDC(nick), Info: info}
}

func parsePrivateMessage(line, rest string) NMDCCommand {
	// $To: <to> From: <from> $<<from>> <text>
	to, rest, ok := strings.Cut(rest, " From: ")
	if !ok {
		return invalid(line, "want From:")
	}
	from, rest, ok := strings.Cut(rest, " $")
	if !ok {
		return invalid(line, "want message")
	}
	text := rest
	if strings.HasPrefix(text, "<") {
		if _, t, ok := strings.Cut(text, "> "); ok {
			text = t
		}
	}
	return PrivateMessage{To: UnescapeNMDC(to), From: UnescapeNMDC(from), Text: UnescapeNMDC(text)}
}

func parseSearch(line, rest string) NMDCCommand {
	// $Search <origin> <F|T>?<F|T>?<size>?<kind>?<query>
	origin, rest, ok := strings.Cut(rest, " ")
	if !ok || origin == "" {
		return invalid(line, "want origin")
	}
	parts := strings.SplitN(rest, "?", 5)
	if len(parts) != 5 {
		return invalid(line, "want five search fields")
	}
	if (parts[0] != "F" && parts[0] != "T") || (parts[1] != "F" && parts[1] != "T") {
		return invalid(line, "bad size flags")
	}
	size, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil && parts[2] != "" {
		return invalid(line, "bad size")
	}
	kind, err := strconv.Atoi(parts[3])
	if err != nil || kind < 1 || kind > 9 {
		return invalid(line, "bad search kind")
	}
	return SearchRequest{
		Origin:         origin,
		SizeRestricted: parts[0] == "T",
		IsMaxSize:      parts[1] == "T",
		Size:           size,
		Kind:           kind,
		Query:          parts[4],
	}
}

func parseADCGet(line, rest string, snd bool) NMDCCommand {
	// $ADCGET <type> <path> <start> <bytes> [flags]
	typ, rest, ok := strings.Cut(rest, " ")
	if !ok {
		return invalid(line, "want type")
	}
	path, rest, ok := strings.Cut(rest, " ")
	if !ok {
		return invalid(line, "want path")
	}
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return invalid(line, "want start and length")
	}
	start, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return invalid(line, "bad start offset")
	}
	length, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || length < -1 {
		return invalid(line, "bad length")
	}
	// Path uses the tokenized dialect's escaping even inside the text
	// dialect.
	p, err := UnescapeADC(path)
	if err != nil {
		return invalid(line, "bad path escape")
	}
	if snd {
		return ADCSend{Type: typ, Path: p, Start: start, Length: length}
	}
	return ADCGet{Type: typ, Path: p, Start: start, Length: length}
}

// FormatADCSend renders the $ADCSND acknowledgement for an ADCGet.
func FormatADCSend(typ, path string, start uint64, length int64) string {
	return fmt.Sprintf("$ADCSND %s %s %d %d", typ, EscapeADC(path), start, length)
}

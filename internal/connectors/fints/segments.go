package fints

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Segment is one unit of a dialog message. The wire form is
// NAME:number:version followed by the data fields, joined with "+" and
// terminated with "'".
type Segment struct {
	Name    string
	Number  int
	Version int
	Fields  []string
}

// Message is a full dialog message: a sequence of segments exchanged
// under a dialog id with a running message number.
type Message struct {
	DialogID string
	MsgNo    int
	Segments []Segment
}

// Find returns the first segment with the given name, or nil.
func (m *Message) Find(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// FindAll returns every segment with the given name.
func (m *Message) FindAll(name string) []Segment {
	var out []Segment
	for _, s := range m.Segments {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// ReturnCode is a status code carried in a feedback segment, with its
// free-text message and optional parameters.
type ReturnCode struct {
	Code    string
	Message string
	Params  []string
}

// ReturnCodes extracts all feedback codes from HIRMG/HIRMS segments.
// Each field has the form "code::message:param:param...".
func (m *Message) ReturnCodes() []ReturnCode {
	var out []ReturnCode
	for _, seg := range m.Segments {
		if seg.Name != "HIRMG" && seg.Name != "HIRMS" {
			continue
		}
		for _, f := range seg.Fields {
			parts := strings.Split(f, "::")
			if len(parts) < 2 {
				continue
			}
			rest := strings.Split(parts[1], ":")
			rc := ReturnCode{Code: parts[0], Message: rest[0]}
			if len(rest) > 1 {
				rc.Params = rest[1:]
			}
			out = append(out, rc)
		}
	}
	return out
}

// HasCode reports whether any feedback segment carries the code and
// returns it.
func (m *Message) HasCode(code string) (*ReturnCode, bool) {
	for _, rc := range m.ReturnCodes() {
		if rc.Code == code {
			return &rc, true
		}
	}
	return nil, false
}

// Encode renders the message to its transport form: segments joined
// and the whole message base64 encoded, headed by the dialog id and
// message number. Field data is "?"-escaped so delimiter-bearing
// payloads (base64 images contain "+") survive the wire.
func (m *Message) Encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HNHBK:1:3+%s+%d'", escapeField(m.DialogID), m.MsgNo)
	for _, seg := range m.Segments {
		b.WriteString(seg.encode())
	}
	fmt.Fprintf(&b, "HNHBS:%d:1+%d'", len(m.Segments)+2, m.MsgNo)
	return base64.StdEncoding.EncodeToString([]byte(b.String()))
}

func (s Segment) encode() string {
	head := fmt.Sprintf("%s:%d:%d", s.Name, s.Number, s.Version)
	if len(s.Fields) == 0 {
		return head + "'"
	}
	escaped := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		escaped[i] = escapeField(f)
	}
	return head + "+" + strings.Join(escaped, "+") + "'"
}

// escapeField protects the segment and field delimiters inside data
// with the "?" escape character.
func escapeField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '?', '+', '\'':
			b.WriteByte('?')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// unescapeField reverses escapeField.
func unescapeField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '?' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// splitUnescaped splits s on sep, leaving "?"-escaped pairs intact.
func splitUnescaped(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '?':
			i++ // the escaped character is data
		case sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// Decode parses a transport-form message back into segments.
func Decode(raw string) (*Message, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	msg := &Message{}
	for _, chunk := range splitUnescaped(string(data), '\'') {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		seg, err := decodeSegment(chunk)
		if err != nil {
			return nil, err
		}
		switch seg.Name {
		case "HNHBK":
			if len(seg.Fields) > 0 {
				msg.DialogID = seg.Fields[0]
			}
			if len(seg.Fields) > 1 {
				msg.MsgNo, _ = strconv.Atoi(seg.Fields[1])
			}
		case "HNHBS":
			// trailer carries nothing we keep
		default:
			msg.Segments = append(msg.Segments, seg)
		}
	}
	return msg, nil
}

func decodeSegment(chunk string) (Segment, error) {
	headAndFields := splitUnescaped(chunk, '+')
	head := strings.Split(headAndFields[0], ":")
	if len(head) < 3 {
		return Segment{}, fmt.Errorf("malformed segment head %q", headAndFields[0])
	}
	number, _ := strconv.Atoi(head[1])
	version, _ := strconv.Atoi(head[2])
	fields := make([]string, len(headAndFields)-1)
	for i, f := range headAndFields[1:] {
		fields[i] = unescapeField(f)
	}
	return Segment{
		Name:    head[0],
		Number:  number,
		Version: version,
		Fields:  fields,
	}, nil
}

// Package ctlab provides a Go client for the c't-lab measurement and control bus.
package ctlab

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Bus addressing limits.
const (
	MinModuleID = 0
	MaxModuleID = 15
)

// Frame delimiters.
const (
	responseMarker = '#'
	ackMarker      = '!'
	queryMarker    = '?'
	lineEnd        = "\r\n"
)

// Request is a command frame sent to one module. It is encoded as
// "<id>:<subchannel>?" for queries and "<id>:<subchannel>=<value>[!]"
// for writes, terminated by CR LF.
type Request struct {
	Module  int
	Channel int
	// Mnemonic replaces the numeric subchannel when set (e.g. "wen").
	Mnemonic string
	Query    bool
	Value    string
	// Ack asks the module to answer a write with its status frame.
	Ack bool
}

// Target returns the subchannel part of the request.
func (r Request) Target() string {
	if r.Mnemonic != "" {
		return r.Mnemonic
	}
	return strconv.Itoa(r.Channel)
}

// Encode constructs the wire-format request.
func (r Request) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(strconv.Itoa(r.Module))
	buf.WriteByte(':')
	buf.WriteString(r.Target())
	if r.Query {
		buf.WriteByte(queryMarker)
	} else {
		buf.WriteByte('=')
		buf.WriteString(r.Value)
		if r.Ack {
			buf.WriteByte(ackMarker)
		}
	}
	buf.WriteString(lineEnd)
	return buf.Bytes()
}

func (r Request) String() string {
	return strings.TrimSuffix(string(r.Encode()), lineEnd)
}

// ParseRequest decodes a request line as a module sees it.
func ParseRequest(line []byte) (Request, error) {
	s := strings.TrimRight(string(line), "\r\n")

	idPart, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Request{}, fmt.Errorf("%w: missing module separator in %q", ErrProtocol, s)
	}
	id, err := parseUint(idPart)
	if err != nil {
		return Request{}, fmt.Errorf("%w: bad module ID in %q", ErrProtocol, s)
	}

	req := Request{Module: id}
	var target string
	switch {
	case strings.HasSuffix(rest, string(queryMarker)):
		req.Query = true
		target = strings.TrimSuffix(rest, string(queryMarker))
	default:
		var value string
		target, value, ok = strings.Cut(rest, "=")
		if !ok {
			return Request{}, fmt.Errorf("%w: missing value in %q", ErrProtocol, s)
		}
		if strings.HasSuffix(value, string(ackMarker)) {
			req.Ack = true
			value = strings.TrimSuffix(value, string(ackMarker))
		}
		req.Value = value
	}

	if target == "" {
		return Request{}, fmt.Errorf("%w: missing subchannel in %q", ErrProtocol, s)
	}
	if ch, err := parseUint(target); err == nil {
		req.Channel = ch
	} else {
		req.Mnemonic = strings.ToLower(target)
	}

	return req, nil
}

// Frame is a response line sent by a module:
// "#<id>:<subchannel>=<value>[ [comment]]".
type Frame struct {
	Module  int
	Channel int
	Value   string
	Comment string
}

// Float returns the frame value as a float.
func (f Frame) Float() (float64, error) {
	v, err := strconv.ParseFloat(f.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: value %q is not a number", ErrProtocol, f.Value)
	}
	return v, nil
}

// Int returns the frame value as an integer. Fractional values are rejected.
func (f Frame) Int() (int, error) {
	v, err := f.Float()
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: value %q is not an integer", ErrProtocol, f.Value)
	}
	return int(v), nil
}

// Encode constructs the wire-format response line.
func (f Frame) Encode() []byte {
	s := fmt.Sprintf("%c%d:%d=%s", responseMarker, f.Module, f.Channel, f.Value)
	if f.Comment != "" {
		s += " [" + f.Comment + "]"
	}
	return []byte(s + lineEnd)
}

func (f Frame) String() string {
	return strings.TrimSuffix(string(f.Encode()), lineEnd)
}

// DecodeFrame parses one response line. Trailing CR/LF are ignored.
func DecodeFrame(line []byte) (Frame, error) {
	s := strings.TrimRight(string(line), "\r\n")
	if len(s) == 0 || s[0] != responseMarker {
		return Frame{}, fmt.Errorf("%w: not a response frame: %q", ErrProtocol, s)
	}

	idPart, rest, ok := strings.Cut(s[1:], ":")
	if !ok {
		return Frame{}, fmt.Errorf("%w: missing module separator in %q", ErrProtocol, s)
	}
	id, err := parseUint(idPart)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: bad module ID in %q", ErrProtocol, s)
	}

	chPart, rest, ok := strings.Cut(rest, "=")
	if !ok {
		return Frame{}, fmt.Errorf("%w: missing value in %q", ErrProtocol, s)
	}
	ch, err := parseUint(chPart)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: bad subchannel in %q", ErrProtocol, s)
	}

	value, comment, _ := strings.Cut(rest, " ")
	if !isDecimal(value) {
		return Frame{}, fmt.Errorf("%w: bad value in %q", ErrProtocol, s)
	}

	comment = strings.TrimSpace(comment)
	comment = strings.TrimPrefix(comment, "[")
	comment = strings.TrimSuffix(comment, "]")

	return Frame{
		Module:  id,
		Channel: ch,
		Value:   value,
		Comment: comment,
	}, nil
}

// FormatValue renders a value the way modules parse it: plain decimal, no exponent.
func FormatValue(v float64) string {
	if v == 0 {
		v = 0 // drop the sign of negative zero
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Status is the status word a module reports on subchannel 255.
type Status struct {
	Code int
	Text string
}

// Status word bits.
const (
	StatusWriteEnabled = 0x10 // EEPROM write enabled
	StatusFaultMask    = 0x5F // bits that mark a failed EEPROM write
)

// WriteEnabled reports whether the EEPROM write enable bit is set.
func (s Status) WriteEnabled() bool {
	return s.Code&StatusWriteEnabled != 0
}

// Has reports whether the status text contains the given flag, e.g. "ICONST".
func (s Status) Has(flag string) bool {
	return strings.Contains(strings.ToUpper(s.Text), strings.ToUpper(flag))
}

func (s Status) String() string {
	if s.Text == "" {
		return fmt.Sprintf("0x%02X", s.Code)
	}
	return fmt.Sprintf("0x%02X (%s)", s.Code, s.Text)
}

func statusFromFrame(f Frame) (Status, error) {
	code, err := f.Int()
	if err != nil {
		return Status{}, err
	}
	return Status{Code: code, Text: f.Comment}, nil
}

// Identity is what a module reports on subchannel 254.
type Identity struct {
	Name     string
	Firmware string
}

func (id Identity) String() string {
	return fmt.Sprintf("%s fw %s", id.Name, id.Firmware)
}

var errEmptyNumber = errors.New("empty number")

func parseUint(s string) (int, error) {
	if s == "" {
		return 0, errEmptyNumber
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid digit %q", c)
		}
	}
	return strconv.Atoi(s)
}

// isDecimal matches -?[0-9.]+ with at least one digit.
func isDecimal(s string) bool {
	s = strings.TrimPrefix(s, "-")
	digits := 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
		default:
			return false
		}
	}
	return digits > 0
}

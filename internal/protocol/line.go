// Package protocol implements the newline-delimited lobby wire format:
// one UTF-8 line per frame, an optional client-assigned "#<id>" echo prefix,
// space-separated tokens and tab-separated sentence arguments.
package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// MaxLineLength is the longest accepted line, terminator excluded.
const MaxLineLength = 1024

// ErrLineTooLong is returned for lines exceeding MaxLineLength. The reader
// has already discarded input up to the next newline when it is returned.
var ErrLineTooLong = errors.New("line too long")

// Message is one parsed inbound frame.
type Message struct {
	ID      string // echo id without the '#', empty when absent
	Command string // first token, uppercased
	Args    string // remainder after the command, may be empty
}

// Parse splits a raw line (terminator already stripped) into a Message.
// Returns ok=false for blank lines and lines carrying only an id.
func Parse(line string) (Message, bool) {
	line = strings.TrimSuffix(line, "\r")

	var msg Message
	if strings.HasPrefix(line, "#") {
		id, rest, found := strings.Cut(line[1:], " ")
		if !found || !isDigits(id) {
			return msg, false
		}
		msg.ID = id
		line = rest
	}

	cmd, args, _ := strings.Cut(line, " ")
	if cmd == "" {
		return msg, false
	}
	msg.Command = strings.ToUpper(cmd)
	msg.Args = args
	return msg, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// SplitArgs cuts up to n space-separated tokens off s and returns them with
// the uncut remainder. Fewer tokens than n may be returned.
func SplitArgs(s string, n int) ([]string, string) {
	args := make([]string, 0, n)
	for len(args) < n {
		s = strings.TrimLeft(s, " ")
		if s == "" {
			break
		}
		tok, rest, found := strings.Cut(s, " ")
		args = append(args, tok)
		if !found {
			s = ""
			break
		}
		s = rest
	}
	return args, strings.TrimLeft(s, " ")
}

// Sentences splits a tab-separated argument tail.
func Sentences(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\t")
}

// WithID prefixes a reply line with the echo id when one was supplied.
func WithID(id, line string) string {
	if id == "" {
		return line
	}
	return "#" + id + " " + line
}

// LineReader reads protocol lines and enforces the length limit.
type LineReader struct {
	r *bufio.Reader
}

// NewLineReader wraps rd with a buffer sized to the protocol limit.
func NewLineReader(rd io.Reader) *LineReader {
	// +2 leaves room for the \r\n terminator of a maximum-length line
	return &LineReader{r: bufio.NewReaderSize(rd, MaxLineLength+2)}
}

// ReadLine returns the next line without its terminator. Oversized lines are
// consumed up to their newline and reported as ErrLineTooLong so the caller
// can answer with a protocol error and keep reading.
func (lr *LineReader) ReadLine() (string, error) {
	slice, err := lr.r.ReadSlice('\n')
	if err == nil {
		line := strings.TrimSuffix(string(slice), "\n")
		line = strings.TrimSuffix(line, "\r")
		if len(line) > MaxLineLength {
			return "", ErrLineTooLong
		}
		return line, nil
	}

	if errors.Is(err, bufio.ErrBufferFull) {
		// discard the rest of the oversized line
		for {
			_, derr := lr.r.ReadSlice('\n')
			if derr == nil {
				return "", ErrLineTooLong
			}
			if errors.Is(derr, bufio.ErrBufferFull) {
				continue
			}
			return "", derr
		}
	}

	if len(slice) > 0 && errors.Is(err, io.EOF) {
		// final line without terminator
		line := strings.TrimSuffix(string(slice), "\r")
		if len(line) > MaxLineLength {
			return "", ErrLineTooLong
		}
		return line, nil
	}

	return "", err
}

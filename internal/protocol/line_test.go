package protocol

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantOK  bool
		wantID  string
		wantCmd string
		wantArg string
	}{
		{
			name:    "plain command",
			line:    "PING",
			wantOK:  true,
			wantCmd: "PING",
		},
		{
			name:    "command with args",
			line:    "SAY main hello world",
			wantOK:  true,
			wantCmd: "SAY",
			wantArg: "main hello world",
		},
		{
			name:    "message id prefix",
			line:    "#42 JOIN main",
			wantOK:  true,
			wantID:  "42",
			wantCmd: "JOIN",
			wantArg: "main",
		},
		{
			name:    "lowercase command uppercased",
			line:    "ping",
			wantOK:  true,
			wantCmd: "PING",
		},
		{
			name:    "carriage return stripped",
			line:    "PING\r",
			wantOK:  true,
			wantCmd: "PING",
		},
		{
			name:   "empty line",
			line:   "",
			wantOK: false,
		},
		{
			name:   "id without command",
			line:   "#42",
			wantOK: false,
		},
		{
			name:   "malformed id",
			line:   "#4x PING",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Parse(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantID, msg.ID)
			assert.Equal(t, tt.wantCmd, msg.Command)
			assert.Equal(t, tt.wantArg, msg.Args)
		})
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		n        int
		want     []string
		wantRest string
	}{
		{
			name: "exact count",
			in:   "a b c",
			n:    3,
			want: []string{"a", "b", "c"},
		},
		{
			name:     "remainder keeps spaces",
			in:       "chan hello spaced world",
			n:        1,
			want:     []string{"chan"},
			wantRest: "hello spaced world",
		},
		{
			name: "fewer tokens than requested",
			in:   "only",
			n:    3,
			want: []string{"only"},
		},
		{
			name: "empty input",
			in:   "",
			n:    2,
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, rest := SplitArgs(tt.in, tt.n)
			assert.Equal(t, tt.want, args)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}

func TestSentences(t *testing.T) {
	assert.Equal(t, []string{"spring", "104", "Delta", "My battle", "BA"},
		Sentences("spring\t104\tDelta\tMy battle\tBA"))
	assert.Nil(t, Sentences(""))
	assert.Equal(t, []string{"one"}, Sentences("one"))
}

func TestWithID(t *testing.T) {
	assert.Equal(t, "ACCEPTED alice", WithID("", "ACCEPTED alice"))
	assert.Equal(t, "#7 ACCEPTED alice", WithID("7", "ACCEPTED alice"))
}

func TestLineReader_ReadLine(t *testing.T) {
	lr := NewLineReader(strings.NewReader("PING\nSAY main hi\r\nEXIT"))

	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "PING", line)

	line, err = lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "SAY main hi", line)

	// final line without terminator is still delivered
	line, err = lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "EXIT", line)

	_, err = lr.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineReader_TooLong(t *testing.T) {
	long := strings.Repeat("x", MaxLineLength+1)
	lr := NewLineReader(strings.NewReader(long + "\nPING\n"))

	_, err := lr.ReadLine()
	require.ErrorIs(t, err, ErrLineTooLong)

	// the reader recovers at the next line
	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "PING", line)
}

func TestLineReader_MaxLengthAccepted(t *testing.T) {
	max := strings.Repeat("y", MaxLineLength)
	lr := NewLineReader(strings.NewReader(max + "\r\n"))

	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Len(t, line, MaxLineLength)
}

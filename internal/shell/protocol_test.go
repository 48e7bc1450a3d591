package shell

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSentinel(t *testing.T) {
	a := newSentinel()
	b := newSentinel()
	require.Regexp(t, regexp.MustCompile(`^pshell_[0-9a-f]{32}$`), a)
	require.NotEqual(t, a, b)
}

func TestFrame(t *testing.T) {
	token := "pshell_0123456789abcdef0123456789abcdef"

	framed, err := frame("echo ok", token)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(framed, "{ eval 'echo ok'\n}; "))
	require.True(t, strings.HasSuffix(framed, "\n"))
	require.Equal(t, 2, strings.Count(framed, "\n"), "command line plus one status line")
	require.Contains(t, framed, "printf '%s %d\\n' '"+token+"' \"$__pshell_rc\"")
	require.Contains(t, framed, "printf '%s\\n' '"+token+"' >&2")
	require.Contains(t, framed, "(exit \"$__pshell_rc\")")

	framed, err = frame("  ", token)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(framed, "{ eval :\n}"))

	// A multi-line command still takes a single input line.
	framed, err = frame("cat <<EOF\nhello\nEOF", token)
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(framed, "\n"))

	_, err = frame("echo nul\x00", token)
	require.Error(t, err)
}

func TestParseTerminator(t *testing.T) {
	token := "pshell_0123456789abcdef0123456789abcdef"

	tests := []struct {
		name     string
		line     string
		ok       bool
		status   int
		prefix   string
		protocol bool
	}{
		{name: "plain", line: token + " 0\n", ok: true, status: 0},
		{name: "failure", line: token + " 1\n", ok: true, status: 1},
		{name: "signal status", line: token + " 130\n", ok: true, status: 130},
		{name: "unterminated output", line: "abc" + token + " 0\n", ok: true, prefix: "abc"},
		{name: "no newline", line: token + " 7", ok: true, status: 7},
		{name: "user output", line: "hello\n"},
		{name: "other token", line: "pshell_ffffffffffffffffffffffffffffffff 0\n"},
		{name: "bare token", line: token + "\n"},
		{name: "garbage status", line: token + " x1\n", ok: true, protocol: true},
		{name: "empty status", line: token + " \n", ok: true, protocol: true},
		{name: "signed status", line: token + " -1\n", ok: true, protocol: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, status, ok, err := parseTerminator(tt.line, token)
			require.Equal(t, tt.ok, ok)
			if tt.protocol {
				var perr *ProtocolError
				require.True(t, errors.As(err, &perr))
				require.ErrorIs(t, err, ErrProcessDied)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.status, status)
			require.Equal(t, tt.prefix, prefix)
		})
	}
}

func TestParseFence(t *testing.T) {
	token := "pshell_0123456789abcdef0123456789abcdef"

	prefix, ok := parseFence(token+"\n", token)
	require.True(t, ok)
	require.Empty(t, prefix)

	prefix, ok = parseFence("warning: x"+token+"\n", token)
	require.True(t, ok)
	require.Equal(t, "warning: x", prefix)

	_, ok = parseFence("error\n", token)
	require.False(t, ok)

	require.True(t, staleFence.MatchString("pshell_ffffffffffffffffffffffffffffffff\n"))
	require.False(t, staleFence.MatchString("pshell_ffff\n"))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "draining", StateDraining.String())
	require.Equal(t, "unknown(42)", State(42).String())
}

func TestEchoFragments(t *testing.T) {
	token := newSentinel()

	tests := []struct {
		name      string
		fragments []string
		line      string
		echoed    string
		captured  []string
	}{
		{
			name:      "prompt then answer",
			fragments: []string{"Pass", "word: "},
			line:      "Password: ok\n",
			echoed:    "Password: ok\n",
			captured:  []string{"Password: ok\n"},
		},
		{
			name:      "sentinel split across reads",
			fragments: []string{"abc", "psh", "ell_", token[len(sentinelPrefix):] + " 0"},
			line:      "abc" + token + " 0\n",
			echoed:    "abc",
			captured:  []string{"abc"},
		},
		{
			name:      "held tail that is not a sentinel",
			fragments: []string{"loop", " done"},
			line:      "loop done\n",
			echoed:    "loop done\n",
			captured:  []string{"loop done\n"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			s := &Session{opts: DefaultOptions(), echo: &echoer{out: &out, err: &out}}
			d := &drain{s: s, inv: &invocation{token: token}}

			for _, text := range tt.fragments {
				require.NoError(t, d.handle(Line{Stream: Stdout, Text: text, Fragment: true}))
			}
			require.NoError(t, d.handle(Line{Stream: Stdout, Text: tt.line}))

			require.Equal(t, tt.echoed, out.String())
			require.Equal(t, tt.captured, d.inv.stdout)
		})
	}
}

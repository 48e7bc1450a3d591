package shell

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckIncomplete(t *testing.T) {
	tests := []struct {
		name       string
		command    string
		incomplete bool
	}{
		{name: "simple", command: "echo ok"},
		{name: "pipeline", command: "ls | wc -l"},
		{name: "escaped semicolon", command: `find . -name x -exec echo {} \;`},
		{name: "heredoc", command: "cat <<EOF\nhello\nEOF"},
		{name: "comment", command: "echo ok # done"},
		{name: "unterminated quote", command: "echo 'oops", incomplete: true},
		{name: "open if", command: "if true; then echo x", incomplete: true},
		{name: "trailing backslash", command: `echo a \`, incomplete: true},
		{name: "escaped backslash", command: `echo a \\`},
		{name: "dangling pipe", command: "echo a |", incomplete: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := check(tt.command, true, nil)
			if !tt.incomplete {
				require.NoError(t, err)
				return
			}
			var serr *SyntaxError
			require.True(t, errors.As(err, &serr), "got %v", err)
			require.Equal(t, tt.command, serr.Command)
		})
	}

	require.NoError(t, check("echo 'oops", false, nil))
}

func TestCheckBlocked(t *testing.T) {
	block := []BlockFunc{
		CommandsBlocker([]string{"shutdown"}),
		ArgumentsBlocker("git", []string{"push"}, []string{"--force"}),
	}

	tests := []struct {
		command string
		blocked bool
	}{
		{command: "echo shutdown"},
		{command: "shutdown -h now", blocked: true},
		{command: "echo ok && shutdown now", blocked: true},
		{command: "git push origin main"},
		{command: "git push --force origin main", blocked: true},
		{command: "git push --force=true", blocked: true},
		{command: "(cd /tmp; git push -f --force)", blocked: true},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			err := check(tt.command, true, block)
			if !tt.blocked {
				require.NoError(t, err)
				return
			}
			var berr *BlockedError
			require.True(t, errors.As(err, &berr), "got %v", err)
		})
	}
}

func TestQuote(t *testing.T) {
	q, err := Quote("/tmp/with space")
	require.NoError(t, err)
	require.Equal(t, "'/tmp/with space'", q)

	_, err = Quote("nul\x00byte")
	require.Error(t, err)
}

package shell

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadersSplitLines(t *testing.T) {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	q := NewQueue[Line]()
	r := startReaders(outR, errR, q, discardLogger())

	_, err := outW.Write([]byte("one\ntwo\nthr"))
	require.NoError(t, err)
	_, err = outW.Write([]byte("ee\nlast"))
	require.NoError(t, err)
	require.NoError(t, outW.Close())
	_, err = errW.Write([]byte("oops\n"))
	require.NoError(t, err)
	require.NoError(t, errW.Close())

	require.True(t, r.wait(5*time.Second))

	var stdout, stderr []string
	closed := map[StreamID]bool{}
	var lastSeq uint64
	for {
		line, ok := q.TryConsume()
		if !ok {
			break
		}
		require.Greater(t, line.Seq, lastSeq)
		lastSeq = line.Seq
		require.False(t, closed[line.Stream], "record after close on %s", line.Stream)

		switch {
		case line.Closed:
			require.NoError(t, line.Err)
			closed[line.Stream] = true
		case line.Fragment:
		case line.Stream == Stdout:
			stdout = append(stdout, line.Text)
		default:
			stderr = append(stderr, line.Text)
		}
	}

	require.Equal(t, []string{"one\n", "two\n", "three\n", "last"}, stdout)
	require.Equal(t, []string{"oops\n"}, stderr)
	require.True(t, closed[Stdout])
	require.True(t, closed[Stderr])
}

func TestReadersFragment(t *testing.T) {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	q := NewQueue[Line]()
	startReaders(outR, errR, q, discardLogger())
	defer errW.Close()
	defer outW.Close()

	_, err := outW.Write([]byte("Pass"))
	require.NoError(t, err)
	_, err = outW.Write([]byte("word: "))
	require.NoError(t, err)

	for _, want := range []string{"Pass", "word: "} {
		line, err := q.Consume(t.Context())
		require.NoError(t, err)
		require.True(t, line.Fragment)
		require.Equal(t, Stdout, line.Stream)
		require.Equal(t, want, line.Text)
	}
}

func TestReadersLongLine(t *testing.T) {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	q := NewQueue[Line]()
	r := startReaders(outR, errR, q, discardLogger())
	require.NoError(t, errW.Close())

	chunk := strings.Repeat("x", 1000)
	for range 200 {
		_, err := outW.Write([]byte(chunk))
		require.NoError(t, err)
	}
	_, err := outW.Write([]byte("\nnext\n"))
	require.NoError(t, err)
	require.NoError(t, outW.Close())
	require.True(t, r.wait(5*time.Second))

	var fragmentBytes int
	var lines []string
	for {
		line, ok := q.TryConsume()
		if !ok {
			break
		}
		switch {
		case line.Closed:
		case line.Fragment:
			fragmentBytes += len(line.Text)
		case line.Stream == Stdout:
			lines = append(lines, line.Text)
		}
	}

	require.Equal(t, 200*len(chunk), fragmentBytes, "each byte is sent in one fragment only")
	require.Equal(t, []string{strings.Repeat("x", 200*1000) + "\n", "next\n"}, lines)
}

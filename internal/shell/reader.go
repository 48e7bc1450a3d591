package shell

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// StreamID identifies which output stream of the shell a line came from.
type StreamID int

const (
	Stdout StreamID = iota
	Stderr
)

func (s StreamID) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// Line is one record produced by a stream reader.
type Line struct {
	Stream StreamID
	// Seq orders records across both streams in delivery order.
	Seq uint64
	// Text keeps its trailing newline. The last line before EOF may lack it.
	Text string
	// Fragment marks the bytes of an incomplete line that arrived in one
	// read, e.g. a prompt. Fragments are for live echo only: each carries
	// just the new bytes, and the full line follows later and repeats them.
	Fragment bool
	// Closed marks the end of the stream. Err is the read error, if any.
	Closed bool
	Err    error
}

// maxKeptLine caps the line buffer a reader reuses after a long line.
const maxKeptLine = 64 * 1024

// readers runs one goroutine per output stream, publishing into a shared
// queue with a common sequence.
type readers struct {
	queue *Queue[Line]
	log   *slog.Logger

	mu  sync.Mutex
	seq uint64

	wg sync.WaitGroup
}

func startReaders(stdout, stderr io.ReadCloser, queue *Queue[Line], log *slog.Logger) *readers {
	r := &readers{queue: queue, log: log}
	r.wg.Add(2)
	go r.read(Stdout, stdout)
	go r.read(Stderr, stderr)
	return r
}

func (r *readers) publish(line Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	line.Seq = r.seq
	r.queue.Publish(line)
}

func (r *readers) read(id StreamID, src io.ReadCloser) {
	defer r.wg.Done()
	defer src.Close()

	buf := make([]byte, 32*1024)
	var pending []byte
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for {
				i := bytes.IndexByte(chunk, '\n')
				if i < 0 {
					break
				}
				pending = append(pending, chunk[:i+1]...)
				r.publish(Line{Stream: id, Text: string(pending)})
				if cap(pending) > maxKeptLine {
					pending = nil
				} else {
					pending = pending[:0]
				}
				chunk = chunk[i+1:]
			}
			if len(chunk) > 0 {
				pending = append(pending, chunk...)
				r.publish(Line{Stream: id, Text: string(chunk), Fragment: true})
			}
		}
		if err != nil {
			if len(pending) > 0 {
				r.publish(Line{Stream: id, Text: string(pending)})
			}
			if errors.Is(err, io.EOF) {
				err = nil
			} else {
				r.log.Warn("shell stream read failed", "stream", id, "error", err)
			}
			r.publish(Line{Stream: id, Closed: true, Err: err})
			return
		}
	}
}

// wait blocks until both readers have published their Closed record, or
// timeout passes. A child that left the process group can keep a stream open
// after the shell is gone.
func (r *readers) wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

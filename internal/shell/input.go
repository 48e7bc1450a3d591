package shell

import (
	"bufio"
	"io"
	"log/slog"
	"sync"
)

// inputPump reads operator input line by line so a draining invocation can
// forward it to the shell. A line is held until some command takes it; lines
// typed while no command is running go to the next one.
type inputPump struct {
	lines chan string
	quit  chan struct{}
	once  sync.Once
}

func newInputPump(r io.Reader, log *slog.Logger) *inputPump {
	p := &inputPump{
		lines: make(chan string),
		quit:  make(chan struct{}),
	}
	go p.read(r, log)
	return p
}

func (p *inputPump) read(r io.Reader, log *slog.Logger) {
	defer close(p.lines)

	br := bufio.NewReader(r)
	for {
		text, err := br.ReadString('\n')
		if text != "" {
			select {
			case p.lines <- text:
			case <-p.quit:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Warn("failed to read operator input", "error", err)
			}
			return
		}
	}
}

// stop makes the pump give up on a pending line. A Read already blocked on
// the source cannot be interrupted and returns whenever the source does.
func (p *inputPump) stop() {
	p.once.Do(func() { close(p.quit) })
}

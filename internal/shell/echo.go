package shell

import (
	"fmt"
	"io"
	"sync"
)

// EchoOptions controls what a session mirrors to its writers while it runs.
// Captured output is never affected.
type EchoOptions struct {
	// Silent hides commands and their stdout. Per call, see Silent.
	Silent bool
	// PrintCommands writes "$ <command>" before each command.
	PrintCommands bool
	// PrintErrors shows stderr even for silent commands.
	PrintErrors bool
	// PrintEmptyLines writes a blank line before each echoed command.
	PrintEmptyLines bool
	// PrintStartStop reports when the shell process is created and stopped.
	PrintStartStop bool
}

type echoer struct {
	mu   sync.Mutex
	out  io.Writer
	err  io.Writer
	opts EchoOptions
}

func (e *echoer) command(command string, silent bool) {
	if silent || !e.opts.PrintCommands {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opts.PrintEmptyLines {
		fmt.Fprintln(e.out)
	}
	fmt.Fprintf(e.out, "$ %s\n", command)
}

func (e *echoer) line(stream StreamID, text string, silent bool) {
	if text == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch stream {
	case Stdout:
		if !silent {
			io.WriteString(e.out, text)
		}
	case Stderr:
		if !silent || e.opts.PrintErrors {
			io.WriteString(e.err, text)
		}
	}
}

func (e *echoer) lifecycle(format string, args ...any) {
	if !e.opts.PrintStartStop {
		return
	}
	e.message(format, args...)
}

func (e *echoer) message(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.out, format+"\n", args...)
}

func (e *echoer) errorf(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.err, format+"\n", args...)
}

package shell

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// BlockFunc reports whether a simple command, given as its literal words,
// must not be sent to the shell.
type BlockFunc func(args []string) bool

// CommandsBlocker creates a BlockFunc that blocks exact command matches
func CommandsBlocker(cmds []string) BlockFunc {
	banned := make(map[string]struct{}, len(cmds))
	for _, cmd := range cmds {
		banned[cmd] = struct{}{}
	}
	return func(args []string) bool {
		if len(args) == 0 {
			return false
		}
		_, ok := banned[args[0]]
		return ok
	}
}

// ArgumentsBlocker creates a BlockFunc that blocks cmd when it is called
// with args as its leading arguments and all of flags present.
func ArgumentsBlocker(cmd string, args []string, flags []string) BlockFunc {
	return func(parts []string) bool {
		if len(parts) == 0 || parts[0] != cmd {
			return false
		}
		argParts, flagParts := splitArgsFlags(parts[1:])
		if len(argParts) < len(args) {
			return false
		}
		if !slices.Equal(argParts[:len(args)], args) {
			return false
		}
		for _, flag := range flags {
			if !slices.Contains(flagParts, flag) {
				return false
			}
		}
		return true
	}
}

func splitArgsFlags(parts []string) (args []string, flags []string) {
	for _, part := range parts {
		if !strings.HasPrefix(part, "-") {
			args = append(args, part)
			continue
		}
		flag := part
		if i := strings.IndexByte(part, '='); i != -1 {
			flag = part[:i]
		}
		flags = append(flags, flag)
	}
	return args, flags
}

// BlockedError is returned, before anything is written, for a command that
// a BlockFunc refused.
type BlockedError struct {
	Command string
	Args    []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("command is not allowed: %s", strings.Join(e.Args, " "))
}

// check runs the pre-write guards on a command. An incomplete command is
// rejected when validation is on, before a shell is started or written to.
// Other parse errors are left to the shell, which fails the command with
// status 2.
func check(command string, validateSyntax bool, block []BlockFunc) error {
	if !validateSyntax && len(block) == 0 {
		return nil
	}
	if validateSyntax {
		if n := len(command) - len(strings.TrimRight(command, `\`)); n%2 == 1 {
			return &SyntaxError{Command: command, Err: errors.New("trailing line continuation")}
		}
	}

	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command+"\n"), "")
	if err != nil {
		if validateSyntax && syntax.IsIncomplete(err) {
			return &SyntaxError{Command: command, Err: err}
		}
		return nil
	}
	if len(block) == 0 {
		return nil
	}

	var blocked *BlockedError
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || blocked != nil {
			return blocked == nil
		}
		args := make([]string, 0, len(call.Args))
		for _, word := range call.Args {
			args = append(args, word.Lit())
		}
		for _, fn := range block {
			if fn(args) {
				blocked = &BlockedError{Command: command, Args: args}
				return false
			}
		}
		return true
	})
	if blocked != nil {
		return blocked
	}
	return nil
}

// Quote returns s quoted for bash so it is read back as a single word.
func Quote(s string) (string, error) {
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		return "", fmt.Errorf("cannot quote %q: %w", s, err)
	}
	return q, nil
}

// Package shell runs commands one after another in a single long-lived shell
// process, so that the shell's own state carries over between them.
//
// Every command is written to the shell's stdin followed by a line that
// prints a random token and the command's exit status. Output read from the
// shell up to that token belongs to the command.
//
//	sess := shell.NewSession(shell.DefaultOptions())
//	defer sess.Shutdown()
//
//	sess.Execute(ctx, "cd /tmp")
//	res, err := sess.Execute(ctx, "pwd") // res.Output() == "/tmp\n"
//
//	res, err = sess.Execute(ctx, "false")                    // *CommandFailedError
//	res, err = sess.Execute(ctx, "false", shell.AllowError()) // res.Status == 1
//
// Only one command runs at a time; concurrent callers wait their turn. If
// the shell dies under a command the session is broken for good and every
// later call returns the same *ProcessDiedError. A command that makes the
// shell exit on its own ("exit 3") completes normally and the next command
// starts a new shell.
package shell

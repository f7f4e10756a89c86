// Package execx runs the operator supplied promote, follow and status
// commands.
package execx

import (
    "bytes"
    "context"
    "errors"
    "os/exec"
    "strings"
    "sync"
)

// Result is the outcome of a command that was started. A non-zero ExitCode
// is a failure of the command, not an error of the runner.
type Result struct {
    ExitCode int
    Output   string
}

// OK reports whether the command exited with status 0.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Commander runs a shell command string. The error is non-nil only when
// the command could not be started or ctx ended first.
type Commander interface {
    Run(ctx context.Context, command string) (Result, error)
}

// Shell runs commands through "/bin/sh -c".
type Shell struct {
    // Path overrides the shell; empty means /bin/sh.
    Path string
}

func (s Shell) Run(ctx context.Context, command string) (Result, error) {
    sh := s.Path
    if sh == "" { sh = "/bin/sh" }
    var out bytes.Buffer
    c := exec.CommandContext(ctx, sh, "-c", command)
    c.Stdout = &out
    c.Stderr = &out
    err := c.Run()
    res := Result{Output: strings.TrimSpace(out.String())}
    var ee *exec.ExitError
    switch {
    case err == nil:
        return res, nil
    case errors.As(err, &ee) && ctx.Err() == nil:
        res.ExitCode = ee.ExitCode()
        return res, nil
    case ctx.Err() != nil:
        return res, ctx.Err()
    default:
        return res, err
    }
}

// Fake is a scripted Commander for tests. Handler decides the result of each
// command; when nil every command succeeds.
type Fake struct {
    Handler func(command string) Result

    mu    sync.Mutex
    calls []string
}

func (f *Fake) Run(ctx context.Context, command string) (Result, error) {
    if err := ctx.Err(); err != nil { return Result{}, err }
    f.mu.Lock()
    f.calls = append(f.calls, command)
    h := f.Handler
    f.mu.Unlock()
    if h == nil { return Result{}, nil }
    return h(command), nil
}

// Calls returns the commands run so far, in order.
func (f *Fake) Calls() []string {
    f.mu.Lock(); defer f.mu.Unlock()
    return append([]string(nil), f.calls...)
}

package execx

import (
    "context"
    "testing"
)

func TestShellExitStatus(t *testing.T) {
    ctx := context.Background()
    res, err := Shell{}.Run(ctx, "echo promoted; exit 0")
    if err != nil || !res.OK() || res.Output != "promoted" { t.Fatalf("ok run: %+v %v", res, err) }

    res, err = Shell{}.Run(ctx, "echo refused >&2; exit 3")
    if err != nil { t.Fatalf("non-zero exit must not be a runner error: %v", err) }
    if res.ExitCode != 3 || res.Output != "refused" { t.Fatalf("got %+v", res) }
}

func TestShellCancelled(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    if _, err := (Shell{}).Run(ctx, "sleep 5"); err == nil { t.Fatalf("expected error for cancelled context") }
}

func TestFakeRecordsCalls(t *testing.T) {
    f := &Fake{Handler: func(c string) Result {
        if c == "bad" { return Result{ExitCode: 1} }
        return Result{}
    }}
    ctx := context.Background()
    r1, _ := f.Run(ctx, "good")
    r2, _ := f.Run(ctx, "bad")
    if !r1.OK() || r2.OK() { t.Fatalf("handler results not applied: %+v %+v", r1, r2) }
    if calls := f.Calls(); len(calls) != 2 || calls[1] != "bad" { t.Fatalf("calls = %v", calls) }
}

package monitor

import (
    "errors"
    "fmt"

    "github.com/amirimatin/go-failover/pkg/config"
)

// ExitCode is the process exit status of the daemon.
type ExitCode int

const (
    ExitSuccess           ExitCode = 0
    ExitBadConfig         ExitCode = 1
    ExitDBConn            ExitCode = 6
    ExitInternal          ExitCode = 10
    ExitMonitoringTimeout ExitCode = 16
)

// ExitError ends Run with a specific exit code.
type ExitError struct {
    Code ExitCode
    Err  error
}

func (e *ExitError) Error() string {
    if e.Err == nil { return fmt.Sprintf("monitor: exit %d", e.Code) }
    return fmt.Sprintf("monitor: %v (exit %d)", e.Err, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// CodeOf maps an error returned by the daemon to its exit code.
func CodeOf(err error) ExitCode {
    if err == nil { return ExitSuccess }
    var ee *ExitError
    if errors.As(err, &ee) { return ee.Code }
    if errors.Is(err, config.ErrInvalid) { return ExitBadConfig }
    return ExitInternal
}

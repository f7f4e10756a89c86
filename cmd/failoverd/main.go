package main

import (
    "log"
    "os"

    "github.com/spf13/cobra"

    failovercli "github.com/amirimatin/go-failover/pkg/cli"
    "github.com/amirimatin/go-failover/pkg/monitor"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Print(err)
        os.Exit(int(monitor.CodeOf(err)))
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "failoverd",
        Short:         "replication cluster failover daemon",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    failovercli.AddAll(root)
    return root
}

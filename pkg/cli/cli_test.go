package cli

import (
    "bytes"
    "context"
    "encoding/json"
    "net/http/httptest"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/spf13/cobra"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-failover/pkg/node"
    "github.com/amirimatin/go-failover/pkg/node/memnet"
    "github.com/amirimatin/go-failover/pkg/registry"
    "github.com/amirimatin/go-failover/pkg/registry/boltstore"
    "github.com/amirimatin/go-failover/pkg/registry/memory"
    "github.com/amirimatin/go-failover/pkg/transport"
    httpjson "github.com/amirimatin/go-failover/pkg/transport/httpjson"
)

func execute(t *testing.T, args ...string) string {
    root := &cobra.Command{Use: "failoverd", SilenceUsage: true, SilenceErrors: true}
    AddAll(root)
    var out bytes.Buffer
    root.SetOut(&out)
    root.SetArgs(args)
    require.NoError(t, root.Execute())
    return out.String()
}

func agent(t *testing.T) (string, *memory.Store) {
    reg := memory.New()
    a := &transport.Agent{
        Local:    node.NewLocal(memnet.NewPrimary(100)),
        Registry: reg,
        Status:   func(context.Context) ([]byte, error) { return []byte(`{"nodeId":1,"role":"primary"}`), nil },
    }
    srv := httptest.NewServer(httpjson.Handler(a))
    t.Cleanup(srv.Close)
    return strings.TrimPrefix(srv.URL, "http://"), reg
}

func TestStatusCommand(t *testing.T) {
    addr, _ := agent(t)
    out := execute(t, "status", "--addr", addr)
    assert.JSONEq(t, `{"nodeId":1,"role":"primary"}`, out)
}

func TestNodesAndEventsCommands(t *testing.T) {
    addr, reg := agent(t)
    ctx := context.Background()
    require.NoError(t, reg.RegisterNode(ctx, registry.NodeRecord{ID: 1, Type: registry.TypePrimary, Active: true}))
    require.NoError(t, reg.RegisterNode(ctx, registry.NodeRecord{ID: 2, Type: registry.TypeStandby, UpstreamID: 1, Active: true}))
    require.NoError(t, reg.AddEvent(ctx, registry.Event{NodeID: 2, Type: "failover_promote", Success: true, Timestamp: time.Unix(10, 0).UTC()}))

    var nodes []registry.NodeRecord
    require.NoError(t, json.Unmarshal([]byte(execute(t, "nodes", "--addr", addr)), &nodes))
    require.Len(t, nodes, 2)
    assert.Equal(t, 1, nodes[1].UpstreamID)

    var evs []registry.Event
    require.NoError(t, json.Unmarshal([]byte(execute(t, "events", "--addr", addr, "--limit", "5")), &evs))
    require.Len(t, evs, 1)
    assert.Equal(t, "failover_promote", evs[0].Type)
}

func TestRegisterIntoBoltRegistry(t *testing.T) {
    dir := t.TempDir()
    db := filepath.Join(dir, "registry.db")
    doc := "node_id: 3\nnode_name: n3\nconninfo: 10.0.0.3:17946\nlocation: dc2\npriority: 40\nfailover: manual\n" +
        "instance: {kind: command, status_command: x}\nregistry: {kind: bolt, path: " + db + "}\n"
    path := filepath.Join(dir, "failoverd.yaml")
    require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

    execute(t, "register", "--config", path, "--type", "standby", "--upstream", "1")

    s, err := boltstore.Open(db)
    require.NoError(t, err)
    defer s.Close()
    rec, err := s.GetNode(context.Background(), 3)
    require.NoError(t, err)
    assert.Equal(t, registry.NodeRecord{
        ID: 3, Name: "n3", Conninfo: "10.0.0.3:17946", Type: registry.TypeStandby,
        UpstreamID: 1, Priority: 40, Location: "dc2", Active: true,
    }, rec)
}

func TestRegisterRejectsMissingUpstream(t *testing.T) {
    root := &cobra.Command{Use: "failoverd", SilenceUsage: true, SilenceErrors: true}
    AddAll(root)
    dir := t.TempDir()
    path := filepath.Join(dir, "failoverd.yaml")
    require.NoError(t, os.WriteFile(path, []byte("node_id: 3\nfailover: manual\ninstance: {kind: command, status_command: x}\n"), 0o644))
    root.SetArgs([]string{"register", "--config", path, "--type", "standby"})
    root.SetOut(&bytes.Buffer{})
    assert.ErrorContains(t, root.Execute(), "--upstream")
}

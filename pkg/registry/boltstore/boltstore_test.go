package boltstore

import (
    "context"
    "errors"
    "path/filepath"
    "testing"
    "time"

    "github.com/amirimatin/go-failover/pkg/registry"
)

func open(t *testing.T, path string) *Store {
    t.Helper()
    s, err := Open(path)
    if err != nil { t.Fatalf("open: %v", err) }
    return s
}

func TestNodesPersistAcrossReopen(t *testing.T) {
    path := filepath.Join(t.TempDir(), "registry.db")
    ctx := context.Background()
    s := open(t, path)
    if err := s.RegisterNode(ctx, registry.NodeRecord{ID: 1, Name: "n1", Type: registry.TypePrimary, Active: true, Status: registry.StatusUp}); err != nil {
        t.Fatal(err)
    }
    if err := s.RegisterNode(ctx, registry.NodeRecord{ID: 2, Name: "n2", Type: registry.TypeStandby, UpstreamID: 1, Active: true}); err != nil {
        t.Fatal(err)
    }
    if _, err := s.IncrementTerm(ctx); err != nil { t.Fatal(err) }
    if err := s.Close(); err != nil { t.Fatal(err) }

    s = open(t, path)
    defer s.Close()
    n1, err := s.GetNode(ctx, 1)
    if err != nil { t.Fatal(err) }
    if n1.Status != "" { t.Fatalf("observed status should not persist, got %q", n1.Status) }
    if term, _ := s.CurrentTerm(ctx); term != 2 { t.Fatalf("term = %d, want 2", term) }
    sib, _ := s.ActiveSiblings(ctx, 1, 0)
    if len(sib) != 1 || sib[0].ID != 2 { t.Fatalf("siblings = %v", sib.IDs()) }
}

func TestGetMissing(t *testing.T) {
    s := open(t, filepath.Join(t.TempDir(), "r.db"))
    defer s.Close()
    if _, err := s.GetNode(context.Background(), 9); !errors.Is(err, registry.ErrNotFound) {
        t.Fatalf("got %v", err)
    }
    if _, err := s.PrimaryID(context.Background()); !errors.Is(err, registry.ErrNoPrimary) {
        t.Fatalf("got %v", err)
    }
}

func TestPromoteAndHistory(t *testing.T) {
    s := open(t, filepath.Join(t.TempDir(), "r.db"))
    defer s.Close()
    ctx := context.Background()
    _ = s.RegisterNode(ctx, registry.NodeRecord{ID: 1, Type: registry.TypePrimary, Active: true})
    _ = s.RegisterNode(ctx, registry.NodeRecord{ID: 2, Type: registry.TypeStandby, UpstreamID: 1, Active: true})
    if err := s.SetPrimary(ctx, 2, 1); err != nil { t.Fatal(err) }
    if id, _ := s.PrimaryID(ctx); id != 2 { t.Fatalf("primary = %d", id) }

    now := time.Now().UTC()
    for i := 0; i < 3; i++ {
        _ = s.AddMonitoringSample(ctx, registry.MonitoringSample{StandbyID: 3, Timestamp: now, ReplicationLagBytes: int64(i)})
    }
    h, err := s.History(ctx, 3)
    if err != nil || len(h) != 3 || h[2].ReplicationLagBytes != 2 { t.Fatalf("history = %+v, %v", h, err) }

    _ = s.AddEvent(ctx, registry.Event{Type: "first"})
    _ = s.AddEvent(ctx, registry.Event{Type: "second"})
    evs, _ := s.Events(ctx, 1)
    if len(evs) != 1 || evs[0].Type != "second" { t.Fatalf("events = %+v", evs) }
}

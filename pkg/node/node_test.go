package node

import (
    "context"
    "encoding/json"
    "errors"
    "testing"
)

func TestParseLSN(t *testing.T) {
    cases := map[string]LSN{
        "0/3000060": 0x3000060,
        "1/0":       1 << 32,
        "42":        42,
        "":          InvalidLSN,
    }
    for in, want := range cases {
        got, err := ParseLSN(in)
        if err != nil { t.Fatalf("parse %q: %v", in, err) }
        if got != want { t.Fatalf("parse %q = %v, want %v", in, got, want) }
    }
    if _, err := ParseLSN("zz/1"); err == nil { t.Fatalf("expected error for bad hex") }
}

func TestLSNJSON(t *testing.T) {
    b, err := json.Marshal(ReplicationInfo{LastWALReceiveLSN: 0x10000002A})
    if err != nil { t.Fatal(err) }
    var ri ReplicationInfo
    if err := json.Unmarshal(b, &ri); err != nil { t.Fatal(err) }
    if ri.LastWALReceiveLSN != 0x10000002A { t.Fatalf("got %v", ri.LastWALReceiveLSN) }
}

type staticInstance struct{ ri ReplicationInfo; err error }

func (s staticInstance) Ping(context.Context) error { return s.err }
func (s staticInstance) ReplicationInfo(context.Context) (ReplicationInfo, error) { return s.ri, s.err }

func TestLoopbackRoutesLocal(t *testing.T) {
    local := NewLocal(staticInstance{ri: ReplicationInfo{RecoveryType: RecoveryStandby, LastWALReceiveLSN: 7}})
    remoteCalled := false
    d := Loopback("local:1", local, DialerFunc(func(context.Context, string) (Conn, error) {
        remoteCalled = true
        return nil, ErrUnreachable
    }))
    ctx := context.Background()
    c, err := d.Dial(ctx, "local:1")
    if err != nil { t.Fatalf("dial local: %v", err) }
    if lsn, _ := c.LastWALReceiveLSN(ctx); lsn != 7 { t.Fatalf("lsn = %v", lsn) }
    if err := c.NotifyFollowPrimary(ctx, 3); err != nil { t.Fatal(err) }
    if id, ok := local.Mailbox.Get(); !ok || id != 3 { t.Fatalf("mailbox = %d,%v", id, ok) }
    _ = c.Close()
    if err := c.Ping(ctx); !errors.Is(err, ErrUnreachable) { t.Fatalf("closed conn ping = %v", err) }

    if _, err := d.Dial(ctx, "peer:2"); err == nil || !remoteCalled { t.Fatalf("expected remote dial") }
}

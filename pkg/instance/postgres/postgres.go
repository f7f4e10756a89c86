// Package postgres probes a local PostgreSQL server over pgx.
package postgres

import (
    "context"
    "fmt"
    "sync"
    "time"

    "github.com/jackc/pgx/v5"

    "github.com/amirimatin/go-failover/pkg/node"
)

const replicationQuery = `
SELECT pg_catalog.pg_is_in_recovery(),
       CASE WHEN pg_catalog.pg_is_in_recovery() THEN '0/0'
            ELSE pg_catalog.pg_current_wal_lsn()::text END,
       COALESCE(pg_catalog.pg_last_wal_receive_lsn()::text, '0/0'),
       COALESCE(pg_catalog.pg_last_wal_replay_lsn()::text, '0/0'),
       pg_catalog.pg_last_xact_replay_timestamp()`

// Instance holds one connection to the server and re-establishes it after a
// failed query.
type Instance struct {
    dsn string

    mu   sync.Mutex
    conn *pgx.Conn
}

func New(dsn string) *Instance { return &Instance{dsn: dsn} }

func (i *Instance) get(ctx context.Context) (*pgx.Conn, error) {
    if i.conn != nil && !i.conn.IsClosed() { return i.conn, nil }
    c, err := pgx.Connect(ctx, i.dsn)
    if err != nil { return nil, fmt.Errorf("%w: %v", node.ErrUnreachable, err) }
    i.conn = c
    return c, nil
}

func (i *Instance) drop() {
    if i.conn != nil { _ = i.conn.Close(context.Background()) }
    i.conn = nil
}

func (i *Instance) Ping(ctx context.Context) error {
    i.mu.Lock(); defer i.mu.Unlock()
    c, err := i.get(ctx)
    if err != nil { return err }
    if err := c.Ping(ctx); err != nil {
        i.drop()
        return fmt.Errorf("%w: %v", node.ErrUnreachable, err)
    }
    return nil
}

func (i *Instance) ReplicationInfo(ctx context.Context) (node.ReplicationInfo, error) {
    i.mu.Lock(); defer i.mu.Unlock()
    ri := node.ReplicationInfo{RecoveryType: node.RecoveryUnknown}
    c, err := i.get(ctx)
    if err != nil { return ri, err }
    var (
        inRecovery            bool
        current, recv, replay string
        replayTS              *time.Time
    )
    if err := c.QueryRow(ctx, replicationQuery).Scan(&inRecovery, &current, &recv, &replay, &replayTS); err != nil {
        i.drop()
        return ri, fmt.Errorf("%w: %v", node.ErrUnreachable, err)
    }
    return build(inRecovery, current, recv, replay, replayTS)
}

func build(inRecovery bool, current, recv, replay string, replayTS *time.Time) (node.ReplicationInfo, error) {
    ri := node.ReplicationInfo{RecoveryType: node.RecoveryPrimary}
    if inRecovery { ri.RecoveryType = node.RecoveryStandby }
    var err error
    if ri.CurrentLSN, err = node.ParseLSN(current); err != nil { return ri, err }
    if ri.LastWALReceiveLSN, err = node.ParseLSN(recv); err != nil { return ri, err }
    if ri.LastWALReplayLSN, err = node.ParseLSN(replay); err != nil { return ri, err }
    if replayTS != nil { ri.LastXactReplayTime = replayTS.UTC() }
    return ri, nil
}

// Close releases the connection.
func (i *Instance) Close() error {
    i.mu.Lock(); defer i.mu.Unlock()
    i.drop()
    return nil
}

var _ node.Instance = (*Instance)(nil)

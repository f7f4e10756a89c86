package boltstore

import (
    "context"
    "encoding/binary"
    "encoding/json"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "time"

    bolt "go.etcd.io/bbolt"

    "github.com/amirimatin/go-failover/pkg/registry"
)

var (
    nodesBucket   = []byte("nodes")
    metaBucket    = []byte("meta")
    votesBucket   = []byte("votes")
    eventsBucket  = []byte("events")
    historyBucket = []byte("history")

    termKey = []byte("term")
)

// openTimeout bounds the wait for the file lock held by another process.
const openTimeout = 2 * time.Second

// Store is a Registry persisted in a single bbolt file. It is the backend
// behind the registry endpoints of the HTTP agent; bbolt allows one process
// per file, so other daemons reach it through the remote client.
type Store struct {
    db *bolt.DB
}

// Open creates or opens the store at path.
func Open(path string) (*Store, error) {
    if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { return nil, err }
    db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
    if err != nil { return nil, err }
    err = db.Update(func(tx *bolt.Tx) error {
        for _, b := range [][]byte{nodesBucket, metaBucket, votesBucket, eventsBucket, historyBucket} {
            if _, err := tx.CreateBucketIfNotExists(b); err != nil { return err }
        }
        m := tx.Bucket(metaBucket)
        if m.Get(termKey) == nil { return m.Put(termKey, u64(1)) }
        return nil
    })
    if err != nil {
        _ = db.Close()
        return nil, fmt.Errorf("boltstore: create buckets: %w", err)
    }
    return &Store{db: db}, nil
}

func u64(v uint64) []byte {
    b := make([]byte, 8)
    binary.BigEndian.PutUint64(b, v)
    return b
}

func idKey(id int) []byte { return u64(uint64(id)) }

func getNode(tx *bolt.Tx, id int) (registry.NodeRecord, error) {
    var n registry.NodeRecord
    v := tx.Bucket(nodesBucket).Get(idKey(id))
    if v == nil { return n, registry.ErrNotFound }
    return n, json.Unmarshal(v, &n)
}

func putNode(tx *bolt.Tx, n registry.NodeRecord) error {
    n.LastWALReceiveLSN, n.Status = 0, ""
    v, err := json.Marshal(n)
    if err != nil { return err }
    return tx.Bucket(nodesBucket).Put(idKey(n.ID), v)
}

func (s *Store) RegisterNode(_ context.Context, rec registry.NodeRecord) error {
    return s.db.Update(func(tx *bolt.Tx) error { return putNode(tx, rec) })
}

func (s *Store) GetNode(_ context.Context, id int) (n registry.NodeRecord, err error) {
    err = s.db.View(func(tx *bolt.Tx) error {
        n, err = getNode(tx, id)
        return err
    })
    return n, err
}

func (s *Store) ListNodes(context.Context) (registry.NodeInfoList, error) {
    var out registry.NodeInfoList
    err := s.db.View(func(tx *bolt.Tx) error {
        return tx.Bucket(nodesBucket).ForEach(func(_, v []byte) error {
            var n registry.NodeRecord
            if err := json.Unmarshal(v, &n); err != nil { return err }
            out = append(out, n)
            return nil
        })
    })
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, err
}

func (s *Store) ActiveSiblings(ctx context.Context, upstreamID, excludeID int) (registry.NodeInfoList, error) {
    all, err := s.ListNodes(ctx)
    if err != nil { return nil, err }
    var out registry.NodeInfoList
    for _, n := range all {
        if n.Active && n.UpstreamID == upstreamID && n.ID != excludeID { out = append(out, n) }
    }
    return out, nil
}

func (s *Store) PrimaryID(ctx context.Context) (int, error) {
    all, err := s.ListNodes(ctx)
    if err != nil { return registry.NoNode, err }
    for _, n := range all {
        if n.Active && n.Type == registry.TypePrimary { return n.ID, nil }
    }
    return registry.NoNode, registry.ErrNoPrimary
}

func (s *Store) update(id int, fn func(*registry.NodeRecord)) error {
    return s.db.Update(func(tx *bolt.Tx) error {
        n, err := getNode(tx, id)
        if err != nil { return err }
        fn(&n)
        return putNode(tx, n)
    })
}

func (s *Store) SetActive(_ context.Context, id int, active bool) error {
    return s.update(id, func(n *registry.NodeRecord) { n.Active = active })
}

func (s *Store) SetUpstream(_ context.Context, id, upstreamID int) error {
    return s.update(id, func(n *registry.NodeRecord) { n.UpstreamID = upstreamID })
}

func (s *Store) SetPrimary(_ context.Context, id, oldPrimaryID int) error {
    return s.db.Update(func(tx *bolt.Tx) error {
        n, err := getNode(tx, id)
        if err != nil { return err }
        n.Type, n.UpstreamID, n.Active = registry.TypePrimary, registry.NoNode, true
        if err := putNode(tx, n); err != nil { return err }
        if oldPrimaryID == registry.NoNode || oldPrimaryID == id { return nil }
        old, err := getNode(tx, oldPrimaryID)
        if err != nil { return nil }
        old.Active = false
        return putNode(tx, old)
    })
}

func (s *Store) CurrentTerm(context.Context) (term int, err error) {
    err = s.db.View(func(tx *bolt.Tx) error {
        term = int(binary.BigEndian.Uint64(tx.Bucket(metaBucket).Get(termKey)))
        return nil
    })
    return term, err
}

func (s *Store) IncrementTerm(context.Context) (term int, err error) {
    err = s.db.Update(func(tx *bolt.Tx) error {
        m := tx.Bucket(metaBucket)
        next := binary.BigEndian.Uint64(m.Get(termKey)) + 1
        term = int(next)
        return m.Put(termKey, u64(next))
    })
    return term, err
}

type voteRow struct {
    Term   int                   `json:"term"`
    Status registry.VotingStatus `json:"status"`
}

func (s *Store) SetVotingStatus(_ context.Context, id, term int, status registry.VotingStatus) error {
    v, _ := json.Marshal(voteRow{Term: term, Status: status})
    return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(votesBucket).Put(idKey(id), v) })
}

func (s *Store) ResetVotingStatus(_ context.Context, id int) error {
    return s.db.Update(func(tx *bolt.Tx) error { return tx.Bucket(votesBucket).Delete(idKey(id)) })
}

func (s *Store) VotingStatus(_ context.Context, id int) (int, registry.VotingStatus, error) {
    var row voteRow
    err := s.db.View(func(tx *bolt.Tx) error {
        v := tx.Bucket(votesBucket).Get(idKey(id))
        if v == nil { return nil }
        return json.Unmarshal(v, &row)
    })
    return row.Term, row.Status, err
}

func appendSeq(tx *bolt.Tx, bucket []byte, v any) error {
    b := tx.Bucket(bucket)
    seq, err := b.NextSequence()
    if err != nil { return err }
    data, err := json.Marshal(v)
    if err != nil { return err }
    return b.Put(u64(seq), data)
}

func (s *Store) AddEvent(_ context.Context, ev registry.Event) error {
    return s.db.Update(func(tx *bolt.Tx) error { return appendSeq(tx, eventsBucket, ev) })
}

func (s *Store) Events(_ context.Context, limit int) ([]registry.Event, error) {
    var out []registry.Event
    err := s.db.View(func(tx *bolt.Tx) error {
        c := tx.Bucket(eventsBucket).Cursor()
        for k, v := c.Last(); k != nil; k, v = c.Prev() {
            if limit > 0 && len(out) == limit { break }
            var ev registry.Event
            if err := json.Unmarshal(v, &ev); err != nil { return err }
            out = append(out, ev)
        }
        return nil
    })
    return out, err
}

func (s *Store) AddMonitoringSample(_ context.Context, m registry.MonitoringSample) error {
    return s.db.Update(func(tx *bolt.Tx) error { return appendSeq(tx, historyBucket, m) })
}

func (s *Store) History(_ context.Context, standbyID int) ([]registry.MonitoringSample, error) {
    var out []registry.MonitoringSample
    err := s.db.View(func(tx *bolt.Tx) error {
        return tx.Bucket(historyBucket).ForEach(func(_, v []byte) error {
            var m registry.MonitoringSample
            if err := json.Unmarshal(v, &m); err != nil { return err }
            if m.StandbyID == standbyID { out = append(out, m) }
            return nil
        })
    })
    return out, err
}

func (s *Store) Close() error { return s.db.Close() }

var _ registry.Registry = (*Store)(nil)

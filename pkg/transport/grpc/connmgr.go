package grpc

import (
    "context"
    "errors"
    "sync"
    "time"

    "google.golang.org/grpc"

    obsmetrics "github.com/amirimatin/go-failover/pkg/observability/metrics"
)

const peerIdleTTL = 30 * time.Second

var errPoolClosed = errors.New("grpc: client closed")

// peerPool holds one connection per peer agent. A peer whose call failed at
// the transport level is retired: new calls dial afresh, and the old
// connection closes once its in-flight calls return.
type peerPool struct {
    mu      sync.Mutex
    peers   map[string]*peerConn
    ttl     time.Duration
    dial    func(ctx context.Context, target string) (*grpc.ClientConn, error)
    start   sync.Once
    closing chan struct{}
    closed  bool
}

type peerConn struct {
    cc       *grpc.ClientConn
    lastUsed time.Time
    inflight int
    retired  bool
}

func newPeerPool(ttl time.Duration, dial func(ctx context.Context, target string) (*grpc.ClientConn, error)) *peerPool {
    if ttl <= 0 { ttl = peerIdleTTL }
    return &peerPool{ttl: ttl, dial: dial, peers: make(map[string]*peerConn), closing: make(chan struct{})}
}

// acquire returns the connection for addr and a release func.
func (p *peerPool) acquire(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
    p.start.Do(func() { go p.reap() })
    if pc := p.take(addr); pc != nil {
        obsmetrics.GRPCConnReuse.Inc()
        return pc.cc, func() { p.release(pc) }, nil
    }

    cc, err := p.dial(ctx, addr)
    if err != nil { return nil, func() {}, err }

    p.mu.Lock()
    defer p.mu.Unlock()
    if p.closed {
        _ = cc.Close()
        return nil, func() {}, errPoolClosed
    }
    if pc, ok := p.peers[addr]; ok {
        _ = cc.Close()
        pc.inflight++
        pc.lastUsed = time.Now()
        return pc.cc, func() { p.release(pc) }, nil
    }
    pc := &peerConn{cc: cc, lastUsed: time.Now(), inflight: 1}
    p.peers[addr] = pc
    obsmetrics.GRPCConnDials.Inc()
    obsmetrics.GRPCConnActive.Inc()
    return cc, func() { p.release(pc) }, nil
}

func (p *peerPool) take(addr string) *peerConn {
    p.mu.Lock()
    defer p.mu.Unlock()
    pc, ok := p.peers[addr]
    if !ok { return nil }
    pc.inflight++
    pc.lastUsed = time.Now()
    return pc
}

func (p *peerPool) release(pc *peerConn) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if pc.inflight > 0 { pc.inflight-- }
    pc.lastUsed = time.Now()
    if pc.retired && pc.inflight == 0 { _ = pc.cc.Close() }
}

// retire forgets the connection to addr after a transport failure.
func (p *peerPool) retire(addr string) {
    p.mu.Lock()
    defer p.mu.Unlock()
    pc, ok := p.peers[addr]
    if !ok { return }
    delete(p.peers, addr)
    pc.retired = true
    obsmetrics.GRPCConnEvictions.Inc()
    obsmetrics.GRPCConnActive.Dec()
    if pc.inflight == 0 { _ = pc.cc.Close() }
}

func (p *peerPool) size() int {
    p.mu.Lock()
    defer p.mu.Unlock()
    return len(p.peers)
}

func (p *peerPool) close() {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.closed { return }
    p.closed = true
    close(p.closing)
    for addr, pc := range p.peers {
        _ = pc.cc.Close()
        delete(p.peers, addr)
        obsmetrics.GRPCConnActive.Dec()
    }
}

// reap closes idle connections so peers that left the cluster are not
// kept open.
func (p *peerPool) reap() {
    t := time.NewTicker(p.ttl / 2)
    defer t.Stop()
    for {
        select {
        case <-p.closing:
            return
        case <-t.C:
            cutoff := time.Now().Add(-p.ttl)
            p.mu.Lock()
            for addr, pc := range p.peers {
                if pc.inflight == 0 && pc.lastUsed.Before(cutoff) {
                    _ = pc.cc.Close()
                    delete(p.peers, addr)
                    obsmetrics.GRPCConnEvictions.Inc()
                    obsmetrics.GRPCConnActive.Dec()
                }
            }
            p.mu.Unlock()
        }
    }
}

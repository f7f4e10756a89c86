package discovery

import (
    "context"
    "log"
    "net"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/go-failover/pkg/internal/logutil"
)

const lookupTimeout = 2 * time.Second

// DNSOptions configures DNS based seeds.
type DNSOptions struct {
    // Names are SRV records ("_failover._tcp.example.com"), hostnames, or
    // literal host:port entries passed through unchanged.
    Names []string
    // Port is used for A/AAAA answers. Defaults to 7946.
    Port int
    // Refresh bounds how long answers are cached. Defaults to 5s.
    Refresh  time.Duration
    Resolver *net.Resolver
    Logger   *log.Logger
}

type dnsSource struct {
    opts  DNSOptions
    mu    sync.Mutex
    last  time.Time
    cache []string
}

func NewDNS(opts DNSOptions) Source {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Port == 0 { opts.Port = 7946 }
    if opts.Resolver == nil { opts.Resolver = net.DefaultResolver }
    if opts.Logger == nil { opts.Logger = log.Default() }
    return &dnsSource{opts: opts}
}

func (d *dnsSource) Seeds() []string {
    d.mu.Lock()
    defer d.mu.Unlock()
    if len(d.cache) > 0 && time.Since(d.last) < d.opts.Refresh {
        return append([]string(nil), d.cache...)
    }
    ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
    defer cancel()
    var all []string
    for _, name := range clean(d.opts.Names) {
        all = append(all, d.resolve(ctx, name)...)
    }
    d.cache, d.last = dedup(all), time.Now()
    return append([]string(nil), d.cache...)
}

func (d *dnsSource) resolve(ctx context.Context, name string) []string {
    if strings.Contains(name, ":") && !strings.HasPrefix(name, "_") { return []string{name} }
    if svc, proto, domain := parseSRVName(name); svc != "" {
        _, addrs, err := d.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
        if err == nil && len(addrs) > 0 {
            out := make([]string, 0, len(addrs))
            for _, a := range addrs {
                out = append(out, net.JoinHostPort(strings.TrimSuffix(a.Target, "."), strconv.Itoa(int(a.Port))))
            }
            return out
        }
        if err != nil { logutil.Debugf(d.opts.Logger, "discovery: SRV %s: %v", name, err) }
    }
    ips, err := d.opts.Resolver.LookupHost(ctx, name)
    if err != nil {
        logutil.Warnf(d.opts.Logger, "discovery: lookup %s: %v", name, err)
        return nil
    }
    out := make([]string, 0, len(ips))
    for _, ip := range ips { out = append(out, net.JoinHostPort(ip, strconv.Itoa(d.opts.Port))) }
    return out
}

// parseSRVName splits "_service._proto.domain".
func parseSRVName(fqdn string) (service, proto, domain string) {
    if !strings.HasPrefix(fqdn, "_") { return "", "", "" }
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 || !strings.HasPrefix(parts[1], "_") { return "", "", "" }
    return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}

func portOf(addr string) int {
    _, p, err := net.SplitHostPort(addr)
    if err != nil { return 0 }
    n, _ := strconv.Atoi(p)
    return n
}

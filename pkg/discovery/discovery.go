// Package discovery supplies the seed addresses a daemon joins gossip with.
package discovery

import (
    "log"
    "sort"
    "strings"

    "github.com/amirimatin/go-failover/pkg/config"
)

// Source returns the current gossip seeds as host:port strings.
type Source interface {
    Seeds() []string
}

type static []string

func (s static) Seeds() []string { return append([]string(nil), s...) }

// Static returns a Source that always yields the given seeds.
func Static(seeds ...string) Source { return static(clean(seeds)) }

// Parse splits a comma-separated seed list.
func Parse(csv string) []string { return clean(strings.Split(csv, ",")) }

type multi []Source

func (m multi) Seeds() []string {
    var all []string
    for _, s := range m { all = append(all, s.Seeds()...) }
    return dedup(all)
}

// FromConfig combines the static join list, the seed file and the DNS names
// configured for gossip.
func FromConfig(g config.Gossip, logger *log.Logger) Source {
    srcs := multi{Static(g.Join...)}
    if g.JoinFile != "" { srcs = append(srcs, NewFile(FileOptions{Path: g.JoinFile})) }
    if len(g.JoinDNS) > 0 {
        port := g.JoinPort
        if port == 0 { port = portOf(g.Bind) }
        srcs = append(srcs, NewDNS(DNSOptions{Names: g.JoinDNS, Port: port, Logger: logger}))
    }
    return srcs
}

func clean(in []string) []string {
    out := make([]string, 0, len(in))
    for _, v := range in {
        if v = strings.TrimSpace(v); v != "" { out = append(out, v) }
    }
    if len(out) == 0 { return nil }
    return out
}

func dedup(in []string) []string {
    set := make(map[string]struct{}, len(in))
    out := make([]string, 0, len(in))
    for _, s := range in {
        if _, ok := set[s]; ok { continue }
        set[s] = struct{}{}
        out = append(out, s)
    }
    sort.Strings(out)
    return out
}

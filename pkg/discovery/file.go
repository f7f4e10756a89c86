package discovery

import (
    "bufio"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"
)

// FileOptions configures file based seeds.
type FileOptions struct {
    // Path is a file or glob. Each line holds one or more comma-separated
    // seeds; blank lines and lines starting with # are skipped.
    Path string
    // Env, when set and non-empty in the environment, overrides the file.
    Env string
    // Refresh bounds how long a read is cached. Defaults to 5s.
    Refresh time.Duration
}

type fileSource struct {
    opts  FileOptions
    mu    sync.Mutex
    last  time.Time
    mtime time.Time
    cache []string
}

func NewFile(opts FileOptions) Source {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    return &fileSource{opts: opts}
}

func (f *fileSource) Seeds() []string {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(f.opts.Env)); v != "" { return dedup(Parse(v)) }
    }
    if f.opts.Path == "" { return nil }
    now := time.Now()
    if st, err := os.Stat(f.opts.Path); err == nil {
        if st.ModTime().After(f.mtime) || now.Sub(f.last) >= f.opts.Refresh {
            f.cache = dedup(readSeeds(f.opts.Path))
            f.last, f.mtime = now, st.ModTime()
        }
        return append([]string(nil), f.cache...)
    }
    matches, _ := filepath.Glob(f.opts.Path)
    if len(matches) > 0 && now.Sub(f.last) >= f.opts.Refresh {
        var all []string
        for _, m := range matches { all = append(all, readSeeds(m)...) }
        f.cache, f.last = dedup(all), now
    }
    return append([]string(nil), f.cache...)
}

func readSeeds(path string) []string {
    fh, err := os.Open(path)
    if err != nil { return nil }
    defer fh.Close()
    var out []string
    s := bufio.NewScanner(fh)
    for s.Scan() {
        line := strings.TrimSpace(s.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        out = append(out, Parse(line)...)
    }
    if s.Err() != nil { return nil }
    return out
}

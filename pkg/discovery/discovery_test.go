package discovery

import (
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-failover/pkg/config"
)

func TestParse(t *testing.T) {
    cases := []struct {
        in   string
        want []string
    }{
        {"", nil},
        {"a:1", []string{"a:1"}},
        {" a:1 , b:2 ", []string{"a:1", "b:2"}},
        {",,a:1, ,b:2,", []string{"a:1", "b:2"}},
    }
    for _, c := range cases {
        assert.Equal(t, c.want, Parse(c.in), c.in)
    }
}

func TestStaticReturnsCopy(t *testing.T) {
    s := Static(" a:1 ", "", "b:2")
    got := s.Seeds()
    require.Equal(t, []string{"a:1", "b:2"}, got)
    got[0] = "x"
    assert.Equal(t, "a:1", s.Seeds()[0])
}

func TestFileEnvOverridesFile(t *testing.T) {
    f := filepath.Join(t.TempDir(), "seeds.txt")
    require.NoError(t, os.WriteFile(f, []byte("a:1\n"), 0o644))
    t.Setenv("FAILOVERD_TEST_SEEDS", "y:8,x:9")
    s := NewFile(FileOptions{Path: f, Env: "FAILOVERD_TEST_SEEDS"})
    assert.Equal(t, []string{"x:9", "y:8"}, s.Seeds())
}

func TestFileRefresh(t *testing.T) {
    f := filepath.Join(t.TempDir(), "seeds.txt")
    require.NoError(t, os.WriteFile(f, []byte("# seeds\na:1\nb:2, a:1\n"), 0o644))
    s := NewFile(FileOptions{Path: f, Refresh: 10 * time.Millisecond})
    require.Equal(t, []string{"a:1", "b:2"}, s.Seeds())

    require.NoError(t, os.WriteFile(f, []byte("b:2\nc:3\n"), 0o644))
    time.Sleep(20 * time.Millisecond)
    assert.Equal(t, []string{"b:2", "c:3"}, s.Seeds())
}

func TestFileGlob(t *testing.T) {
    dir := t.TempDir()
    require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a:1\nb:2\n"), 0o644))
    require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b:2\nc:3\n"), 0o644))
    s := NewFile(FileOptions{Path: filepath.Join(dir, "*.txt")})
    assert.Equal(t, []string{"a:1", "b:2", "c:3"}, s.Seeds())
}

func TestParseSRVName(t *testing.T) {
    s, p, n := parseSRVName("_failover._tcp.example.com")
    assert.Equal(t, []string{"failover", "tcp", "example.com"}, []string{s, p, n})
    s, _, _ = parseSRVName("bad.srv")
    assert.Empty(t, s)
}

func TestDNSPassthroughAndLocalhost(t *testing.T) {
    s := NewDNS(DNSOptions{Names: []string{"1.2.3.4:7946", "localhost"}, Port: 12345})
    got := s.Seeds()
    assert.Contains(t, got, "1.2.3.4:7946")
    found := false
    for _, g := range got {
        if strings.HasSuffix(g, ":12345") { found = true }
    }
    assert.True(t, found, "%v", got)
}

func TestFromConfigMergesSources(t *testing.T) {
    f := filepath.Join(t.TempDir(), "seeds.txt")
    require.NoError(t, os.WriteFile(f, []byte("b:2\nc:3\n"), 0o644))
    g := config.Gossip{Bind: "0.0.0.0:7947", Join: []string{"a:1", "b:2"}, JoinFile: f, JoinDNS: []string{"9.9.9.9:1"}}
    assert.Equal(t, []string{"9.9.9.9:1", "a:1", "b:2", "c:3"}, FromConfig(g, nil).Seeds())
    assert.Equal(t, 7947, portOf(g.Bind))
}

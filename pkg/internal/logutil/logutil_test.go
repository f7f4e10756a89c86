package logutil

import (
    "bytes"
    "encoding/json"
    "log"
    "strings"
    "testing"
)

func TestTextModePrefixesLevel(t *testing.T) {
    SetJSON(false)
    var buf bytes.Buffer
    l := log.New(&buf, "", 0)
    Warnf(l, "upstream %d unreachable", 2)
    if got := buf.String(); !strings.HasPrefix(got, "WARN upstream 2 unreachable") {
        t.Fatalf("unexpected line %q", got)
    }
}

func TestJSONMode(t *testing.T) {
    SetJSON(true)
    defer SetJSON(false)
    var buf bytes.Buffer
    l := log.New(&buf, "", 0)
    Infof(l, "node %s promoted", "n2")
    var evt map[string]any
    if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &evt); err != nil {
        t.Fatalf("not json: %v (%q)", err, buf.String())
    }
    if evt["level"] != "info" || evt["msg"] != "node n2 promoted" {
        t.Fatalf("unexpected event %v", evt)
    }
}

func TestDebugSuppressedByDefault(t *testing.T) {
    SetDebug(false)
    var buf bytes.Buffer
    Debugf(log.New(&buf, "", 0), "hidden")
    if buf.Len() != 0 { t.Fatalf("debug output leaked: %q", buf.String()) }
    SetDebug(true)
    defer SetDebug(false)
    Debugf(log.New(&buf, "", 0), "shown")
    if !strings.Contains(buf.String(), "DEBUG shown") { t.Fatalf("missing debug line: %q", buf.String()) }
}

package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net"
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/go-failover/pkg/node"
    obsmetrics "github.com/amirimatin/go-failover/pkg/observability/metrics"
    "github.com/amirimatin/go-failover/pkg/observability/tracing"
    "github.com/amirimatin/go-failover/pkg/transport"
)

// Server is a minimal HTTP server exposing the agent API plus metrics and
// healthz. It is intended for intra-cluster calls and operator tooling.
type Server struct {
    bind   string
    srv    *http.Server
    ln     net.Listener
    logger *log.Logger
    tlsCfg *tls.Config
}

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
    code := http.StatusInternalServerError
    if errors.Is(err, node.ErrUnreachable) { code = http.StatusServiceUnavailable }
    writeJSON(w, code, transport.NewErrorResponse(err))
}

func method(m string, h http.HandlerFunc) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        if r.Method != m { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        obsmetrics.AgentRequests.WithLabelValues("http", r.URL.Path).Inc()
        h(w, r)
    }
}

// Handler returns the agent mux. It is exported so tests can mount it on
// httptest servers.
func Handler(a *transport.Agent) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/node/ping", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
        if err := a.Ping(r.Context()); err != nil { writeErr(w, err); return }
        writeJSON(w, http.StatusOK, struct{}{})
    }))
    mux.HandleFunc("/node/replication", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
        ri, err := a.Replication(r.Context())
        if err != nil { writeErr(w, err); return }
        writeJSON(w, http.StatusOK, ri)
    }))
    mux.HandleFunc("/node/notify", method(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
        var req transport.NotifyRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), "http.notify", "primary_id", req.PrimaryID)
        defer end()
        if err := a.Notify(ctx, req.PrimaryID); err != nil { writeErr(w, err); return }
        writeJSON(w, http.StatusOK, struct{}{})
    }))
    mux.HandleFunc("/node/notification", func(w http.ResponseWriter, r *http.Request) {
        obsmetrics.AgentRequests.WithLabelValues("http", r.URL.Path).Inc()
        switch r.Method {
        case http.MethodGet:
            n, err := a.Notification(r.Context())
            if err != nil { writeErr(w, err); return }
            writeJSON(w, http.StatusOK, n)
        case http.MethodDelete:
            if err := a.ResetNotification(r.Context()); err != nil { writeErr(w, err); return }
            writeJSON(w, http.StatusOK, struct{}{})
        default:
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        }
    })
    mux.HandleFunc("/registry", method(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
        var req transport.RegistryRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), "http.registry", "method", req.Method)
        defer end()
        writeJSON(w, http.StatusOK, transport.ServeRegistry(ctx, a.Registry, req))
    }))
    mux.HandleFunc("/status", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
        if a.Status == nil { http.Error(w, "status not supported", http.StatusNotImplemented); return }
        ctx, end := tracing.StartSpan(r.Context(), "http.status")
        defer end()
        data, err := a.Status(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError); return }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    }))
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    // Prometheus metrics
    mux.Handle("/metrics", promhttp.Handler())
    return mux
}

// Start launches the HTTP server. The server is shut down when the context
// is canceled.
func (s *Server) Start(ctx context.Context, a *transport.Agent) error {
    s.srv = &http.Server{Addr: s.bind, Handler: Handler(a), ReadHeaderTimeout: 5 * time.Second}

    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }
    s.ln = ln
    srv := s.srv

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            s.logger.Printf("httpjson: server error: %v", err)
        }
    }()
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    if s.ln != nil { return s.ln.Addr().String() }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    err := s.srv.Shutdown(c)
    s.srv = nil
    return err
}

var _ transport.RPCServer = (*Server)(nil)

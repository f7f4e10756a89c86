package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "net"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-failover/pkg/node"
    obsmetrics "github.com/amirimatin/go-failover/pkg/observability/metrics"
    "github.com/amirimatin/go-failover/pkg/observability/tracing"
    "github.com/amirimatin/go-failover/pkg/transport"
)

const serviceName = "failover.v1.Agent"

// Server implements transport.RPCServer over gRPC using a JSON codec.
type Server struct {
    bind   string
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
    tlsCfg *tls.Config
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// internal request/response types used over gRPC JSON codec
type empty struct{}
type statusBlob struct {
    Data []byte `json:"data"`
}

// agentServer defines the methods we expose.
type agentServer interface {
    Ping(ctx context.Context, in *empty) (*empty, error)
    Replication(ctx context.Context, in *empty) (*node.ReplicationInfo, error)
    Notify(ctx context.Context, in *transport.NotifyRequest) (*empty, error)
    GetNotification(ctx context.Context, in *empty) (*transport.NotificationResponse, error)
    ResetNotification(ctx context.Context, in *empty) (*empty, error)
    GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
    Registry(ctx context.Context, in *transport.RegistryRequest) (*transport.RegistryResponse, error)
}

type agentImpl struct{ a *transport.Agent }

// toStatus keeps node.ErrUnreachable recognisable on the client side.
func toStatus(err error) error {
    if err == nil { return nil }
    if errors.Is(err, node.ErrUnreachable) { return status.Error(codes.Unavailable, err.Error()) }
    return status.Error(codes.Internal, err.Error())
}

func (m *agentImpl) Ping(ctx context.Context, _ *empty) (*empty, error) {
    if err := m.a.Ping(ctx); err != nil { return nil, toStatus(err) }
    return &empty{}, nil
}

func (m *agentImpl) Replication(ctx context.Context, _ *empty) (*node.ReplicationInfo, error) {
    ri, err := m.a.Replication(ctx)
    if err != nil { return nil, toStatus(err) }
    return &ri, nil
}

func (m *agentImpl) Notify(ctx context.Context, in *transport.NotifyRequest) (*empty, error) {
    if in == nil { return nil, status.Error(codes.InvalidArgument, "missing request") }
    ctx, end := tracing.StartSpan(ctx, "grpc.notify", "primary_id", in.PrimaryID)
    defer end()
    if err := m.a.Notify(ctx, in.PrimaryID); err != nil { return nil, toStatus(err) }
    return &empty{}, nil
}

func (m *agentImpl) GetNotification(ctx context.Context, _ *empty) (*transport.NotificationResponse, error) {
    n, err := m.a.Notification(ctx)
    if err != nil { return nil, toStatus(err) }
    return &n, nil
}

func (m *agentImpl) ResetNotification(ctx context.Context, _ *empty) (*empty, error) {
    if err := m.a.ResetNotification(ctx); err != nil { return nil, toStatus(err) }
    return &empty{}, nil
}

func (m *agentImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
    if m.a.Status == nil { return nil, status.Error(codes.Unimplemented, "status not supported") }
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    b, err := m.a.Status(ctx)
    if err != nil { return nil, toStatus(err) }
    return &statusBlob{Data: b}, nil
}

func (m *agentImpl) Registry(ctx context.Context, in *transport.RegistryRequest) (*transport.RegistryResponse, error) {
    if in == nil { in = &transport.RegistryRequest{} }
    ctx, end := tracing.StartSpan(ctx, "grpc.registry", "method", in.Method)
    defer end()
    out := transport.ServeRegistry(ctx, m.a.Registry, *in)
    return &out, nil
}

// unary builds a hand-written method handler (no codegen required).
func unary[Req any](name string, call func(agentServer, context.Context, *Req) (any, error)) grpc.MethodDesc {
    full := "/" + serviceName + "/" + name
    return grpc.MethodDesc{
        MethodName: name,
        Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
            in := new(Req)
            if err := dec(in); err != nil { return nil, err }
            obsmetrics.AgentRequests.WithLabelValues("grpc", name).Inc()
            if interceptor == nil { return call(srv.(agentServer), ctx, in) }
            info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
            handler := func(ctx context.Context, req any) (any, error) {
                return call(srv.(agentServer), ctx, req.(*Req))
            }
            return interceptor(ctx, in, info, handler)
        },
    }
}

var _Agent_serviceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*agentServer)(nil),
    Methods: []grpc.MethodDesc{
        unary("Ping", func(s agentServer, ctx context.Context, in *empty) (any, error) { return s.Ping(ctx, in) }),
        unary("Replication", func(s agentServer, ctx context.Context, in *empty) (any, error) { return s.Replication(ctx, in) }),
        unary("Notify", func(s agentServer, ctx context.Context, in *transport.NotifyRequest) (any, error) { return s.Notify(ctx, in) }),
        unary("GetNotification", func(s agentServer, ctx context.Context, in *empty) (any, error) { return s.GetNotification(ctx, in) }),
        unary("ResetNotification", func(s agentServer, ctx context.Context, in *empty) (any, error) { return s.ResetNotification(ctx, in) }),
        unary("GetStatus", func(s agentServer, ctx context.Context, in *empty) (any, error) { return s.GetStatus(ctx, in) }),
        unary("Registry", func(s agentServer, ctx context.Context, in *transport.RegistryRequest) (any, error) { return s.Registry(ctx, in) }),
    },
}

func (s *Server) Start(ctx context.Context, a *transport.Agent) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    s.lis = lis
    // Force JSON codec to avoid requiring protobuf types
    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    s.srv = srv
    s.health = health.NewServer()
    healthpb.RegisterHealthServer(srv, s.health)
    s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
    srv.RegisterService(&_Agent_serviceDesc, &agentImpl{a: a})

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

func (s *Server) Stop(ctx context.Context) error {
    srv := s.srv
    if srv == nil { return nil }
    s.srv = nil
    if s.health != nil { s.health.Shutdown() }
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    case <-time.After(2 * time.Second):
        srv.Stop()
    }
    return nil
}

var _ transport.RPCServer = (*Server)(nil)

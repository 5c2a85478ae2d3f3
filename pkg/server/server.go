package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pixperk/stompguard/pkg/introspect"
)

// Server answers admin queries from the introspection views. It never
// takes a lock.
type Server struct {
	source introspect.Source
}

func NewServer(source introspect.Source) *Server {
	return &Server{source: source}
}

func (s *Server) ListLocks(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structOf(s.source.Locks())
}

func (s *Server) ContentionStats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structOf(s.source.Contention())
}

func (s *Server) Policies(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structOf(s.source.Policies())
}

func (s *Server) ResolveKey(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	class := fields["class"].GetStringValue()
	scope := fields["scope"].GetStringValue()

	if class == "" || scope == "" {
		return nil, status.Error(codes.InvalidArgument, "class and scope required")
	}

	view, err := s.source.ResolveKey(class, scope)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return structOf(view)
}

func structOf(v any) (*structpb.Struct, error) {
	st, err := introspect.ToStruct(v)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return st, nil
}

// NewGRPCServer builds a grpc.Server carrying the admin and health
// services, with request logging.
func NewGRPCServer(admin AdminServer, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "admin"))

	opts = append(opts, grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	gs := grpc.NewServer(opts...)

	RegisterAdminServer(gs, admin)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	return gs
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		attrs := []slog.Attr{
			slog.String("method", info.FullMethod),
			slog.Duration("took", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.String("code", status.Code(err).String()), slog.String("error", err.Error()))
			logger.LogAttrs(ctx, slog.LevelWarn, "admin call failed", attrs...)
		} else {
			logger.LogAttrs(ctx, slog.LevelDebug, "admin call", attrs...)
		}
		return resp, err
	}
}

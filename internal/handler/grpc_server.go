package handler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
)

// HealthServiceName is the service name reported by the gRPC health server.
const HealthServiceName = "scm.requisitions.v1.RequisitionsService"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewGRPCServer creates a gRPC server exposing the standard health service
// and server reflection, with logging and recovery interceptors.
func NewGRPCServer(hs *health.Server, log zerolog.Logger) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor(log),
			loggingInterceptor(log),
		),
	)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv) // Enable reflection for debugging
	return srv
}

// WatchHealth pings the store every interval and flips the serving status of
// the health server until ctx is done.
func WatchHealth(ctx context.Context, srv *health.Server, store Pinger, interval time.Duration, log zerolog.Logger) {
	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		st := healthpb.HealthCheckResponse_SERVING
		if err := store.Ping(pingCtx); err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			log.Warn().Err(err).Msg("Health check: store unreachable")
		}
		srv.SetServingStatus("", st)
		srv.SetServingStatus(HealthServiceName, st)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			srv.Shutdown()
			return
		case <-ticker.C:
			check()
		}
	}
}

// GRPCStatus converts an application error to a gRPC status error.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	appErr, ok := errors.As(err)
	if !ok {
		return status.Error(codes.Internal, "internal error")
	}

	var code codes.Code
	switch appErr.Kind() {
	case errors.KindValidation:
		code = codes.InvalidArgument
		if appErr.Code == errors.ErrCodeWrongActor {
			code = codes.PermissionDenied
		}
	case errors.KindBusiness:
		code = codes.FailedPrecondition
	case errors.KindConcurrency:
		code = codes.Aborted
	case errors.KindNotFound:
		code = codes.NotFound
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, appErr.Error())
}

func loggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		err = GRPCStatus(err)

		event := log.Debug()
		if err != nil {
			event = log.Warn().Err(err)
		}
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get("x-request-id"); len(ids) > 0 {
				event = event.Str("request_id", ids[0])
			}
		}
		event.
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC request")
		return resp, err
	}
}

func recoveryInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				log.Error().
					Interface("panic", p).
					Str("method", info.FullMethod).
					Bytes("stack", debug.Stack()).
					Msg("gRPC handler panicked")
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

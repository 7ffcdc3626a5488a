package grpcapi

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultPolicies declares the requirement of every exposed method.
func DefaultPolicies() Policies {
	return Policies{
		healthpb.Health_Check_FullMethodName: {Public: true},
		healthpb.Health_Watch_FullMethodName: {Public: true},
		MethodCheck:                          {},
		MethodWhoami:                         {},
	}
}

// NewServer builds a gRPC server guarded by g, exposing the health and Authz
// services. The returned health server starts in SERVING state.
func NewServer(g *Guard, authz *AuthzService, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(g.Unary()),
		grpc.ChainStreamInterceptor(g.Stream()),
	)
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	RegisterAuthzServer(srv, authz)
	hs.SetServingStatus(AuthzServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv, hs
}

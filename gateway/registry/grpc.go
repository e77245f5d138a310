package registry

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// registryServer is the plain-Go interface the hand-written ServiceDesc
// below dispatches to. structpb.Struct already implements proto.Message, so
// the service needs no protoc-generated request/response types: callers
// exchange plain maps instead of a dedicated .proto schema.
type registryServer interface {
	Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Unregister(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Lookup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	List(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Heartbeat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// GRPCServer adapts a *Registry to registryServer, the shape grpc.Server
// dispatches RPCs to.
type GRPCServer struct {
	reg *Registry
}

// NewGRPCServer wraps reg for gRPC registration via RegisterGRPCServer.
func NewGRPCServer(reg *Registry) *GRPCServer { return &GRPCServer{reg: reg} }

var _ registryServer = (*GRPCServer)(nil)

// RegisterGRPCServer attaches the registry's hand-written gRPC service
// description to s.
func RegisterGRPCServer(s *grpc.Server, srv *GRPCServer) {
	s.RegisterService(&serviceDesc, srv)
}

func (s *GRPCServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m := req.AsMap()
	d := Descriptor{AppID: stringField(m, "app_id"), Name: stringField(m, "name"), Address: stringField(m, "address")}
	if caps, ok := m["capabilities"].([]any); ok {
		for _, c := range caps {
			if cs, ok := c.(string); ok {
				d.Capabilities = append(d.Capabilities, cs)
			}
		}
	}
	if err := s.reg.Register(ctx, d); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(map[string]any{"ok": true})
}

func (s *GRPCServer) Unregister(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	appID := stringField(req.AsMap(), "app_id")
	if err := s.reg.Unregister(ctx, appID); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(map[string]any{"ok": true})
}

func (s *GRPCServer) Lookup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	appID := stringField(req.AsMap(), "app_id")
	d, healthy, err := s.reg.Lookup(appID)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if d.AppID == "" {
		return nil, status.Error(codes.NotFound, fmt.Sprintf("app %q not registered", appID))
	}
	return structpb.NewStruct(descriptorMap(d, healthy))
}

func (s *GRPCServer) List(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ds, err := s.reg.List()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	apps := make([]any, 0, len(ds))
	for _, d := range ds {
		apps = append(apps, descriptorMap(d, s.reg.health.IsHealthy(d.AppID)))
	}
	return structpb.NewStruct(map[string]any{"apps": apps})
}

func (s *GRPCServer) Heartbeat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	appID := stringField(req.AsMap(), "app_id")
	if err := s.reg.RecordHeartbeat(ctx, appID); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(map[string]any{"ok": true})
}

func descriptorMap(d Descriptor, healthy bool) map[string]any {
	caps := make([]any, 0, len(d.Capabilities))
	for _, c := range d.Capabilities {
		caps = append(caps, c)
	}
	return map[string]any{
		"app_id": d.AppID, "name": d.Name, "address": d.Address,
		"capabilities": caps, "healthy": healthy,
		"registered_at": d.RegisteredAt.Unix(),
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func unaryHandler(method func(registryServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(structpb.Struct)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(registryServer), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(registryServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// serviceDesc is a hand-written grpc.ServiceDesc standing in for
// protoc-generated output: since every request/response is a
// structpb.Struct (already a proto.Message satisfying grpc's default proto
// codec), no .proto schema or generated stubs are required to expose the
// registry over gRPC.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "tickline.registry.v1.Registry",
	HandlerType: (*registryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler(registryServer.Register)},
		{MethodName: "Unregister", Handler: unaryHandler(registryServer.Unregister)},
		{MethodName: "Lookup", Handler: unaryHandler(registryServer.Lookup)},
		{MethodName: "List", Handler: unaryHandler(registryServer.List)},
		{MethodName: "Heartbeat", Handler: unaryHandler(registryServer.Heartbeat)},
	},
	Metadata: "tickline/registry.proto",
}

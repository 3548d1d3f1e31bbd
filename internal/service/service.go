// Package service exposes the resolver over gRPC as
// concretizer.v1.Concretizer. Payloads are google.protobuf.Struct values so
// clients need no generated stubs.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vjranagit/spack-sub003/internal/config"
	"github.com/vjranagit/spack-sub003/internal/resolver"
	"github.com/vjranagit/spack-sub003/internal/spec"
)

const (
	ServiceName      = "concretizer.v1.Concretizer"
	ConcretizeMethod = "/" + ServiceName + "/Concretize"
)

// ConcretizerServer is the server API of the Concretizer service.
type ConcretizerServer interface {
	Concretize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// Installed supplies reuse candidates for every request.
type Installed interface {
	Nodes() []*spec.Node
}

// Server implements ConcretizerServer on top of a Resolver.
type Server struct {
	resolver  resolver.Resolver
	installed Installed
}

var _ ConcretizerServer = (*Server)(nil)

// NewServer returns a server resolving with r. installed may be nil.
func NewServer(r resolver.Resolver, installed Installed) *Server {
	return &Server{resolver: r, installed: installed}
}

// Register adds the Concretizer service to s.
func Register(s grpc.ServiceRegistrar, srv ConcretizerServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Concretize resolves req.specs under req.unify and returns the concrete
// graph.
func (s *Server) Concretize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in, err := decodeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.installed != nil {
		in.Installed = s.installed.Nodes()
	}

	plan, err := s.resolver.Resolve(ctx, in)
	if err != nil {
		logr.FromContextOrDiscard(ctx).V(1).Info("concretize failed", "specs", len(in.Specs), "error", err.Error())
		return nil, Status(err)
	}

	data, err := json.Marshal(plan.Document())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if out.Fields == nil {
		out.Fields = make(map[string]*structpb.Value)
	}
	out.Fields["request_id"] = structpb.NewStringValue(plan.Diagnostics.RequestID)
	return out, nil
}

func decodeRequest(req *structpb.Struct) (resolver.Input, error) {
	var in resolver.Input
	fields := req.GetFields()
	list := fields["specs"].GetListValue()
	if list == nil || len(list.GetValues()) == 0 {
		return in, errors.New("specs must be a non-empty list of strings")
	}
	for i, v := range list.GetValues() {
		raw, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return in, fmt.Errorf("specs[%d] is not a string", i)
		}
		s, err := spec.Parse(raw.StringValue)
		if err != nil {
			return in, err
		}
		in.Specs = append(in.Specs, s)
	}
	if u, ok := fields["unify"]; ok {
		mode, err := config.ParseUnifyMode(u.GetStringValue())
		if err != nil {
			return in, err
		}
		in.Unify = mode
	}
	return in, nil
}

// Status converts a resolver error into a gRPC status error.
func Status(err error) error {
	var pe *spec.ParseError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pe):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, resolver.ErrUnreachable):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, resolver.ErrInfeasible):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, resolver.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// LoggingInterceptor puts log into the context of every call.
func LoggingInterceptor(log logr.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		return handler(logr.NewContext(ctx, log.WithValues("method", info.FullMethod)), req)
	}
}

func concretizeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConcretizerServer).Concretize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ConcretizeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ConcretizerServer).Concretize(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConcretizerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Concretize", Handler: concretizeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "concretizer/v1/concretizer.proto",
}

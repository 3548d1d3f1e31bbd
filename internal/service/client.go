package service

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the Concretizer service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// Concretize sends a raw request.
func (c *Client) Concretize(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ConcretizeMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// NewRequest builds a request for specs. An empty unify leaves the server's
// policy in charge.
func NewRequest(specs []string, unify string) (*structpb.Struct, error) {
	list := make([]any, len(specs))
	for i, s := range specs {
		list[i] = s
	}
	fields := map[string]any{"specs": list}
	if unify != "" {
		fields["unify"] = unify
	}
	return structpb.NewStruct(fields)
}

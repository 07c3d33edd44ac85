package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "wealthflow.automation.v1.AutomationService"

// AutomationServiceServer is the server API for AutomationService.
// Messages are google.protobuf.Struct so no generated code is needed.
type AutomationServiceServer interface {
	RunOnce(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Tick(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetRuleEnabled(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(AutomationServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// AutomationServiceDesc describes AutomationService for grpc.Server.RegisterService
var AutomationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AutomationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunOnce", Handler: unaryHandler("RunOnce", AutomationServiceServer.RunOnce)},
		{MethodName: "Tick", Handler: unaryHandler("Tick", AutomationServiceServer.Tick)},
		{MethodName: "SetRuleEnabled", Handler: unaryHandler("SetRuleEnabled", AutomationServiceServer.SetRuleEnabled)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wealthflow/automation/v1/automation.proto",
}

// RegisterAutomationServiceServer registers srv on s
func RegisterAutomationServiceServer(s grpc.ServiceRegistrar, srv AutomationServiceServer) {
	s.RegisterService(&AutomationServiceDesc, srv)
}

func unaryHandler(method string, call unaryCall) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + ServiceName + "/" + method

	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AutomationServiceServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(AutomationServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client calls AutomationService
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client on cc
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// RunOnce calls AutomationService.RunOnce
func (c *Client) RunOnce(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "RunOnce", in, opts...)
}

// Tick calls AutomationService.Tick
func (c *Client) Tick(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Tick", in, opts...)
}

// SetRuleEnabled calls AutomationService.SetRuleEnabled
func (c *Client) SetRuleEnabled(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "SetRuleEnabled", in, opts...)
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// AgentServer is the set of RPCs the master calls on a NodeAgent.
type AgentServer interface {
	HandleArtifact(ctx context.Context, req *ArtifactInfo) (*ArtifactResponse, error)
	RemoveArtifact(ctx context.Context, req *RemoveArtifactRequest) (*RemoveArtifactResponse, error)
	HealthCheck(ctx context.Context, req *HealthCheckRequest) (*HealthCheckResponse, error)
}

const agentServiceName = "piccolo.Agent"

// AgentServiceDesc is the hand-authored grpc.ServiceDesc for AgentServer.
var AgentServiceDesc = grpc.ServiceDesc{
	ServiceName: agentServiceName,
	HandlerType: (*AgentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "HandleArtifact", Handler: agentHandleArtifactHandler},
		{MethodName: "RemoveArtifact", Handler: agentRemoveArtifactHandler},
		{MethodName: "HealthCheck", Handler: agentHealthCheckHandler},
	},
	Metadata: "piccolo/agent.proto",
}

// RegisterAgentServer wires srv's methods into s under AgentServiceDesc.
func RegisterAgentServer(s *grpc.Server, srv AgentServer) {
	s.RegisterService(&AgentServiceDesc, srv)
}

func agentHandleArtifactHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ArtifactInfo)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).HandleArtifact(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + agentServiceName + "/HandleArtifact"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentServer).HandleArtifact(ctx, req.(*ArtifactInfo))
	}
	return interceptor(ctx, req, info, handler)
}

func agentRemoveArtifactHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(RemoveArtifactRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).RemoveArtifact(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + agentServiceName + "/RemoveArtifact"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentServer).RemoveArtifact(ctx, req.(*RemoveArtifactRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func agentHealthCheckHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(HealthCheckRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServer).HealthCheck(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + agentServiceName + "/HealthCheck"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentServer).HealthCheck(ctx, req.(*HealthCheckRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// AgentClient calls an AgentServer over an established connection.
type AgentClient struct {
	cc *grpc.ClientConn
}

// NewAgentClient wraps cc.
func NewAgentClient(cc *grpc.ClientConn) *AgentClient {
	return &AgentClient{cc: cc}
}

func (c *AgentClient) HandleArtifact(ctx context.Context, req *ArtifactInfo) (*ArtifactResponse, error) {
	resp := new(ArtifactResponse)
	if err := c.cc.Invoke(ctx, "/"+agentServiceName+"/HandleArtifact", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *AgentClient) RemoveArtifact(ctx context.Context, req *RemoveArtifactRequest) (*RemoveArtifactResponse, error) {
	resp := new(RemoveArtifactResponse)
	if err := c.cc.Invoke(ctx, "/"+agentServiceName+"/RemoveArtifact", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *AgentClient) HealthCheck(ctx context.Context, req *HealthCheckRequest) (*HealthCheckResponse, error) {
	resp := new(HealthCheckResponse)
	if err := c.cc.Invoke(ctx, "/"+agentServiceName+"/HealthCheck", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

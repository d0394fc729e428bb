package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// MasterServer is the set of RPCs the master exposes to NodeAgents and
// administrative callers.
type MasterServer interface {
	RequestCertificate(ctx context.Context, req *CertificateRequest) (*CertificateResponse, error)
	RegisterNode(ctx context.Context, req *NodeRegistrationRequest) (*NodeRegistrationResponse, error)
	ReportStatus(ctx context.Context, req *StatusReport) (*StatusAck, error)
	Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error)
	GetNodes(ctx context.Context, req *GetNodesRequest) (*GetNodesResponse, error)
	GetNode(ctx context.Context, req *GetNodeRequest) (*GetNodeResponse, error)
	GetTopology(ctx context.Context, req *GetTopologyRequest) (*GetTopologyResponse, error)
	UpdateTopology(ctx context.Context, req *UpdateTopologyRequest) (*UpdateTopologyResponse, error)
	SetScenarioState(ctx context.Context, req *SetScenarioStateRequest) (*SetScenarioStateResponse, error)
	ApplyBundle(ctx context.Context, req *ApplyBundleRequest) (*ApplyBundleResponse, error)
}

const masterServiceName = "piccolo.Master"

// MasterServiceDesc is the hand-authored grpc.ServiceDesc for MasterServer,
// standing in for protoc-generated registration code (see package doc).
var MasterServiceDesc = grpc.ServiceDesc{
	ServiceName: masterServiceName,
	HandlerType: (*MasterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestCertificate", Handler: masterRequestCertificateHandler},
		{MethodName: "RegisterNode", Handler: masterRegisterNodeHandler},
		{MethodName: "ReportStatus", Handler: masterReportStatusHandler},
		{MethodName: "Heartbeat", Handler: masterHeartbeatHandler},
		{MethodName: "GetNodes", Handler: masterGetNodesHandler},
		{MethodName: "GetNode", Handler: masterGetNodeHandler},
		{MethodName: "GetTopology", Handler: masterGetTopologyHandler},
		{MethodName: "UpdateTopology", Handler: masterUpdateTopologyHandler},
		{MethodName: "SetScenarioState", Handler: masterSetScenarioStateHandler},
		{MethodName: "ApplyBundle", Handler: masterApplyBundleHandler},
	},
	Metadata: "piccolo/master.proto",
}

// RegisterMasterServer wires srv's methods into s under MasterServiceDesc.
func RegisterMasterServer(s *grpc.Server, srv MasterServer) {
	s.RegisterService(&MasterServiceDesc, srv)
}

func masterRequestCertificateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CertificateRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MasterServer).RequestCertificate(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + masterServiceName + "/RequestCertificate"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MasterServer).RequestCertificate(ctx, req.(*CertificateRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func masterRegisterNodeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(NodeRegistrationRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MasterServer).RegisterNode(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + masterServiceName + "/RegisterNode"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MasterServer).RegisterNode(ctx, req.(*NodeRegistrationRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func masterReportStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(StatusReport)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MasterServer).ReportStatus(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + masterServiceName + "/ReportStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MasterServer).ReportStatus(ctx, req.(*StatusReport))
	}
	return interceptor(ctx, req, info, handler)
}

func masterHeartbeatHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(HeartbeatRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MasterServer).Heartbeat(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + masterServiceName + "/Heartbeat"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MasterServer).Heartbeat(ctx, req.(*HeartbeatRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func masterGetNodesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetNodesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MasterServer).GetNodes(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + masterServiceName + "/GetNodes"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MasterServer).GetNodes(ctx, req.(*GetNodesRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func masterGetNodeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetNodeRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MasterServer).GetNode(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + masterServiceName + "/GetNode"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MasterServer).GetNode(ctx, req.(*GetNodeRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func masterGetTopologyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetTopologyRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MasterServer).GetTopology(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + masterServiceName + "/GetTopology"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MasterServer).GetTopology(ctx, req.(*GetTopologyRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func masterUpdateTopologyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(UpdateTopologyRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MasterServer).UpdateTopology(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + masterServiceName + "/UpdateTopology"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MasterServer).UpdateTopology(ctx, req.(*UpdateTopologyRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func masterSetScenarioStateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(SetScenarioStateRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MasterServer).SetScenarioState(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + masterServiceName + "/SetScenarioState"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MasterServer).SetScenarioState(ctx, req.(*SetScenarioStateRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func masterApplyBundleHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ApplyBundleRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MasterServer).ApplyBundle(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + masterServiceName + "/ApplyBundle"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MasterServer).ApplyBundle(ctx, req.(*ApplyBundleRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// MasterClient calls a MasterServer over an established connection.
type MasterClient struct {
	cc *grpc.ClientConn
}

// NewMasterClient wraps cc.
func NewMasterClient(cc *grpc.ClientConn) *MasterClient {
	return &MasterClient{cc: cc}
}

func (c *MasterClient) RequestCertificate(ctx context.Context, req *CertificateRequest) (*CertificateResponse, error) {
	resp := new(CertificateResponse)
	if err := c.cc.Invoke(ctx, "/"+masterServiceName+"/RequestCertificate", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MasterClient) RegisterNode(ctx context.Context, req *NodeRegistrationRequest) (*NodeRegistrationResponse, error) {
	resp := new(NodeRegistrationResponse)
	if err := c.cc.Invoke(ctx, "/"+masterServiceName+"/RegisterNode", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MasterClient) ReportStatus(ctx context.Context, req *StatusReport) (*StatusAck, error) {
	resp := new(StatusAck)
	if err := c.cc.Invoke(ctx, "/"+masterServiceName+"/ReportStatus", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MasterClient) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	resp := new(HeartbeatResponse)
	if err := c.cc.Invoke(ctx, "/"+masterServiceName+"/Heartbeat", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MasterClient) GetNodes(ctx context.Context, req *GetNodesRequest) (*GetNodesResponse, error) {
	resp := new(GetNodesResponse)
	if err := c.cc.Invoke(ctx, "/"+masterServiceName+"/GetNodes", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MasterClient) GetNode(ctx context.Context, req *GetNodeRequest) (*GetNodeResponse, error) {
	resp := new(GetNodeResponse)
	if err := c.cc.Invoke(ctx, "/"+masterServiceName+"/GetNode", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MasterClient) GetTopology(ctx context.Context, req *GetTopologyRequest) (*GetTopologyResponse, error) {
	resp := new(GetTopologyResponse)
	if err := c.cc.Invoke(ctx, "/"+masterServiceName+"/GetTopology", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MasterClient) UpdateTopology(ctx context.Context, req *UpdateTopologyRequest) (*UpdateTopologyResponse, error) {
	resp := new(UpdateTopologyResponse)
	if err := c.cc.Invoke(ctx, "/"+masterServiceName+"/UpdateTopology", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MasterClient) SetScenarioState(ctx context.Context, req *SetScenarioStateRequest) (*SetScenarioStateResponse, error) {
	resp := new(SetScenarioStateResponse)
	if err := c.cc.Invoke(ctx, "/"+masterServiceName+"/SetScenarioState", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MasterClient) ApplyBundle(ctx context.Context, req *ApplyBundleRequest) (*ApplyBundleResponse, error) {
	resp := new(ApplyBundleResponse)
	if err := c.cc.Invoke(ctx, "/"+masterServiceName+"/ApplyBundle", req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}

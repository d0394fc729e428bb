// Package rpc implements the master-exposed and agent-exposed RPC surface
// over mutually authenticated gRPC. Request and response payloads are plain
// Go structs (messages.go) marshaled by a small custom codec (codec.go)
// registered under grpc-go's codec registry, and the two services are
// wired up by hand-authored grpc.ServiceDesc values (masterservice.go,
// agentservice.go) instead of protoc-generated stubs — there is no .proto
// source in this repository to generate from. Fabric (fabric.go) is the
// client-side connection pool and retry policy callers use to reach a peer.
package rpc

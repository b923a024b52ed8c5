// Package rpcauth implements the RPC Auth Wrapper: a transparent
// interposer that signs and verifies unary and streaming RPCs, plus the
// thin authenticated RPC surface between peers (NodeData, math
// request/response). Tensor serialization and inference RPC bodies are
// out of scope (spec §1); InferenceChunk below is a contract-only
// placeholder a real implementation would replace.
package rpcauth

// NodeData is returned by rpc_info().
type NodeData struct {
	Version     string
	ClientMode  bool
	Role        string
}

// MathRequest/MathResponse back rpc_math(equation) -> {output}, the
// verifier/prover scoring round's wire contract.
type MathRequest struct {
	Equation string
}

type MathResponse struct {
	Output float64
}

// InferenceChunk is one streamed element of rpc_inference_stream; the
// tensor payload itself is out of scope, represented here only as an
// opaque byte blob so the streaming auth wrapper has something concrete
// to sign/verify per chunk.
type InferenceChunk struct {
	Output []byte
	Final  bool
}

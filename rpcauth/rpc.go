package rpcauth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hayotensor/subnet-commit-reveal-example/auth"
	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
)

// Transport dials a peer and performs one of the three authenticated
// RPCs (spec §4.4). It is the abstract stub interface the RPC Auth
// Wrapper sits in front of; a real implementation would back this with
// a libp2p stream or gRPC channel, out of scope here per §1.
type Transport interface {
	CallInfo(ctx context.Context, peerID cryptokeys.PeerID, payload []byte, info *auth.RequestAuthInfo) ([]byte, *auth.ResponseAuthInfo, error)
	CallMath(ctx context.Context, peerID cryptokeys.PeerID, payload []byte, info *auth.RequestAuthInfo) ([]byte, *auth.ResponseAuthInfo, error)
	CallInferenceStream(ctx context.Context, peerID cryptokeys.PeerID, payload []byte, info *auth.RequestAuthInfo) (<-chan StreamChunk, error)
}

// PeerDirectory resolves a peer's current public key, e.g. from the
// heartbeat announcer's cached "node" records.
type PeerDirectory interface {
	PublicKey(peerID cryptokeys.PeerID) (cryptokeys.PublicKey, error)
}

// Client is the authenticated RPC surface between peers (spec §4.4):
// rpc_info, rpc_math, and rpc_inference_stream, each routed through the
// Wrapper's sign/verify envelope.
type Client struct {
	Wrapper   *Wrapper
	Transport Transport
	Peers     PeerDirectory
}

func NewClient(w *Wrapper, t Transport, peers PeerDirectory) *Client {
	return &Client{Wrapper: w, Transport: t, Peers: peers}
}

func (c *Client) pubOf(peerID cryptokeys.PeerID) (cryptokeys.PublicKey, error) {
	pub, err := c.Peers.PublicKey(peerID)
	if err != nil {
		return cryptokeys.PublicKey{}, fmt.Errorf("rpcauth: resolve public key for %s: %w", peerID, err)
	}
	return pub, nil
}

// RPCInfo calls rpc_info() on peerID, returning its advertised NodeData.
func (c *Client) RPCInfo(peerID cryptokeys.PeerID) (NodeData, error) {
	pub, err := c.pubOf(peerID)
	if err != nil {
		return NodeData{}, err
	}
	respPayload, err := c.Wrapper.CallUnary(context.Background(), pub, nil, func(ctx context.Context, payload []byte, info *auth.RequestAuthInfo) ([]byte, *auth.ResponseAuthInfo, error) {
		return c.Transport.CallInfo(ctx, peerID, payload, info)
	})
	if err != nil {
		return NodeData{}, err
	}
	var data NodeData
	if err := json.Unmarshal(respPayload, &data); err != nil {
		return NodeData{}, fmt.Errorf("rpcauth: decode rpc_info response: %w", err)
	}
	return data, nil
}

// RPCMath calls rpc_math(equation) on peerID and satisfies
// consensus.Prover, the verifier-side contract the Task Commit-Reveal
// Engine calls once per known peer each epoch.
func (c *Client) RPCMath(peerID cryptokeys.PeerID, equation string) (float64, error) {
	pub, err := c.pubOf(peerID)
	if err != nil {
		return 0, err
	}
	reqPayload, err := json.Marshal(MathRequest{Equation: equation})
	if err != nil {
		return 0, fmt.Errorf("rpcauth: encode rpc_math request: %w", err)
	}
	respPayload, err := c.Wrapper.CallUnary(context.Background(), pub, reqPayload, func(ctx context.Context, payload []byte, info *auth.RequestAuthInfo) ([]byte, *auth.ResponseAuthInfo, error) {
		return c.Transport.CallMath(ctx, peerID, payload, info)
	})
	if err != nil {
		return 0, err
	}
	var resp MathResponse
	if err := json.Unmarshal(respPayload, &resp); err != nil {
		return 0, fmt.Errorf("rpcauth: decode rpc_math response: %w", err)
	}
	return resp.Output, nil
}

// RPCInferenceStream calls rpc_inference_stream(prompt, tensor) on
// peerID. The tensor payload itself is an opaque blob (spec §1: tensor
// serialization is out of scope); only the chunked auth envelope is
// this package's concern.
func (c *Client) RPCInferenceStream(peerID cryptokeys.PeerID, prompt string, tensor []byte) (<-chan StreamChunk, error) {
	pub, err := c.pubOf(peerID)
	if err != nil {
		return nil, err
	}
	reqPayload, err := json.Marshal(struct {
		Prompt string `json:"prompt"`
		Tensor []byte `json:"tensor"`
	}{Prompt: prompt, Tensor: tensor})
	if err != nil {
		return nil, fmt.Errorf("rpcauth: encode rpc_inference_stream request: %w", err)
	}
	return c.Wrapper.CallStream(context.Background(), pub, reqPayload, func(ctx context.Context, payload []byte, info *auth.RequestAuthInfo) (<-chan StreamChunk, error) {
		return c.Transport.CallInferenceStream(ctx, peerID, payload, info)
	})
}

var _ interface {
	RPCMath(cryptokeys.PeerID, string) (float64, error)
} = (*Client)(nil)

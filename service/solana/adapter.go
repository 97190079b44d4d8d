package solana

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// realRPCClient adapts one or more solana-go RPC clients to our RPCClient interface.
// Each call goes to a randomly chosen endpoint to spread load across providers.
type realRPCClient struct {
	clients []*rpc.Client
}

// NewRPCClient creates an RPCClient backed by the given endpoints.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURLs ...string) (RPCClient, error) {
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	clients := make([]*rpc.Client, 0, len(rpcURLs))
	for _, u := range rpcURLs {
		clients = append(clients, rpc.New(u))
	}
	return &realRPCClient{clients: clients}, nil
}

// EndpointLabel reduces an RPC URL to a short provider name for metric labels,
// so API keys embedded in the URL never reach Prometheus.
func EndpointLabel(rpcURL string) string {
	u, err := url.Parse(rpcURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := u.Hostname()
	for _, provider := range []string{"helius", "quiknode", "alchemy", "triton", "ankr", "mainnet", "devnet", "testnet"} {
		if strings.Contains(host, provider) {
			return provider
		}
	}
	return host
}

// EndpointsLabel labels a set of endpoints: the single provider name, or "pool".
func EndpointsLabel(rpcURLs []string) string {
	if len(rpcURLs) == 1 {
		return EndpointLabel(rpcURLs[0])
	}
	return "pool"
}

func (r *realRPCClient) pick() *rpc.Client {
	return r.clients[rand.IntN(len(r.clients))]
}

func (r *realRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	return r.pick().GetTransaction(ctx, signature, opts)
}

func (r *realRPCClient) GetLatestBlockhash(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (*rpc.GetLatestBlockhashResult, error) {
	return r.pick().GetLatestBlockhash(ctx, commitment)
}

func (r *realRPCClient) GetSignatureStatuses(
	ctx context.Context,
	searchTransactionHistory bool,
	signatures ...solana.Signature,
) (*rpc.GetSignatureStatusesResult, error) {
	return r.pick().GetSignatureStatuses(ctx, searchTransactionHistory, signatures...)
}

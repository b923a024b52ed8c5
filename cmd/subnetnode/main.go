// Command subnetnode is a thin entrypoint wiring module.Module from a
// TOML config or flags (spec.md §2.3 of SPEC_FULL.md). The
// argparse-style CLI surface, REST bootnode-info API, and the real RPC
// transport are explicitly out of scope (spec.md §1); this just starts
// and stops one node against the in-memory mock blockchain client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hayotensor/subnet-commit-reveal-example/auth"
	"github.com/hayotensor/subnet-commit-reveal-example/chain"
	"github.com/hayotensor/subnet-commit-reveal-example/cryptokeys"
	clog "github.com/hayotensor/subnet-commit-reveal-example/log"
	"github.com/hayotensor/subnet-commit-reveal-example/module"
	"github.com/hayotensor/subnet-commit-reveal-example/rpcauth"
)

var log = clog.NewPkgLogger("cmd")

func main() {
	app := &cli.App{
		Name:  "subnetnode",
		Usage: "run a subnet consensus node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a TOML config file"},
			&cli.StringFlag{Name: "identity", Usage: "path to a local identity key file (requires a KeyStore implementation, see §6)"},
			&cli.UintFlag{Name: "subnet-id", Usage: "subnet id to join (overrides config)"},
			&cli.BoolFlag{Name: "mock-chain", Value: true, Usage: "use the in-memory mock blockchain client instead of a real endpoint"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "subnetnode:", err)
		os.Exit(1) // FatalConfig per spec.md §7: non-zero exit
	}
}

func run(c *cli.Context) error {
	cfg := module.DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := module.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if c.IsSet("subnet-id") {
		cfg.SubnetID = uint32(c.Uint("subnet-id"))
	}
	if c.IsSet("identity") {
		cfg.IdentityPath = c.String("identity")
	}
	if c.IsSet("mock-chain") {
		cfg.MockChain = c.Bool("mock-chain")
	}

	if cfg.LogFile != "" {
		clog.SetRoot(clog.NewWithConfig(clog.Config{FilePath: cfg.LogFile}))
	}

	identity, err := loadOrGenerateIdentity(cfg.IdentityPath)
	if err != nil {
		return fmt.Errorf("subnetnode: %w", err)
	}

	if !cfg.MockChain {
		return fmt.Errorf("subnetnode: a real blockchain client is an external collaborator (spec.md §1/§6) not wired into this entrypoint; run with --mock-chain")
	}
	chainClient := chain.NewMock()
	chainClient.RegisterSubnet(cfg.SubnetID, chain.SubnetActive, 0)

	m, err := module.New(cfg, identity, chainClient, unreachableTransport{}, 0, "validator")
	if err != nil {
		return fmt.Errorf("subnetnode: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	log.Info("starting subnet node", "subnet_id", cfg.SubnetID, "peer_id", m.Self)
	return m.Run(ctx)
}

// loadOrGenerateIdentity loads an identity from path if given, else
// generates a fresh ephemeral one. Parsing a real on-disk key file is
// an external collaborator per spec.md §6 (left as module.KeyStore); a
// real deployment supplies its own implementation instead of calling
// this placeholder with a non-empty path.
func loadOrGenerateIdentity(path string) (*cryptokeys.KeyPair, error) {
	if path != "" {
		return nil, fmt.Errorf("loading identities from %q requires a module.KeyStore implementation (spec.md §6 leaves key storage out of scope); omit --identity to use a fresh ephemeral key", path)
	}
	return cryptokeys.GenerateEd25519()
}

// unreachableTransport is the placeholder wire transport: spec.md §1
// puts the real RPC transport out of scope, so this entrypoint has no
// peers to dial until a real rpcauth.Transport is supplied.
type unreachableTransport struct{}

func (unreachableTransport) CallInfo(ctx context.Context, peerID cryptokeys.PeerID, payload []byte, info *auth.RequestAuthInfo) ([]byte, *auth.ResponseAuthInfo, error) {
	return nil, nil, fmt.Errorf("cmd/subnetnode: no transport wired; peer %s unreachable", peerID)
}

func (unreachableTransport) CallMath(ctx context.Context, peerID cryptokeys.PeerID, payload []byte, info *auth.RequestAuthInfo) ([]byte, *auth.ResponseAuthInfo, error) {
	return nil, nil, fmt.Errorf("cmd/subnetnode: no transport wired; peer %s unreachable", peerID)
}

func (unreachableTransport) CallInferenceStream(ctx context.Context, peerID cryptokeys.PeerID, payload []byte, info *auth.RequestAuthInfo) (<-chan rpcauth.StreamChunk, error) {
	return nil, fmt.Errorf("cmd/subnetnode: no transport wired; peer %s unreachable", peerID)
}

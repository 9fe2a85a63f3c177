// Command llmqd is a reference runner for the DKG session handler: a local
// multi-node demo network exercising the real gRPC transport, diagnostics,
// and metrics surfaces end to end, with every node inside one process wired
// over loopback. A host embedding this module's packages in its own
// masternode daemon supplies its own chain.Source and member.Registry
// instead of this demo's fakes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/dashpay/llmq/bls"
	"github.com/dashpay/llmq/chain"
	"github.com/dashpay/llmq/config"
	"github.com/dashpay/llmq/coordinator"
	"github.com/dashpay/llmq/log"
	"github.com/dashpay/llmq/member"
	"github.com/dashpay/llmq/metrics"
	llmqnet "github.com/dashpay/llmq/net"
	"github.com/dashpay/llmq/params"
	"github.com/dashpay/llmq/scheduler"
	"github.com/dashpay/llmq/store"
	"github.com/dashpay/llmq/wire"
)

func main() {
	configPath := flag.String("config", "", "path to a llmqd TOML configuration file")
	flag.Parse()

	l := log.New(os.Stdout, log.InfoLevel, false)
	if *configPath == "" {
		l.Fatalw("llmqd: -config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		l.Fatalw("llmqd: load config", "err", err)
	}
	l = log.New(os.Stdout, log.ParseLevel(cfg.LogLevel), cfg.LogJSON)

	if len(cfg.Quorums) == 0 {
		l.Fatalw("llmqd: configuration declares no [[quorum]] entries")
	}
	if cfg.Demo.NodeCount < cfg.Quorums[0].MinSize {
		l.Fatalw("llmqd: demo.node_count is below the first quorum's min_size")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runDemo(ctx, l, cfg); err != nil {
		l.Fatalw("llmqd: demo run failed", "err", err)
	}
}

// node bundles one demo participant's owned resources, everything runDemo
// needs to tear down cleanly on shutdown.
type node struct {
	addr       string
	log        log.Logger
	coord      *coordinator.Coordinator
	grpcServer *llmqnet.Server
	diagServer *http.Server
}

// runDemo builds cfg.Demo.NodeCount nodes, each a full Coordinator behind its
// own gRPC server and diagnostics endpoint, wires them to a shared fake chain
// and registry, starts the process-wide metrics exporter, and drives the
// fake chain forward until ctx is canceled.
func runDemo(ctx context.Context, l log.Logger, cfg *config.Config) error {
	scheme := bls.NewScheme()

	n := cfg.Demo.NodeCount
	basePort := cfg.Demo.BasePort
	if basePort == 0 {
		basePort = 17000
	}
	diagBasePort := cfg.Demo.MetricsBasePort
	if diagBasePort == 0 {
		diagBasePort = 18000
	}
	blockInterval := time.Duration(cfg.Demo.BlockIntervalMS) * time.Millisecond
	if blockInterval <= 0 {
		blockInterval = 250 * time.Millisecond
	}

	candidates := make([]member.Candidate, n)
	privKeys := make([]kyber.Scalar, n)
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		priv := scheme.SigGroup.Scalar().Pick(random.New())
		pub := scheme.SigGroup.Point().Mul(priv, nil)
		pubBytes, err := pub.MarshalBinary()
		if err != nil {
			return fmt.Errorf("llmqd: marshal demo pubkey %d: %w", i, err)
		}
		var id member.ID
		id[0] = byte(i + 1)
		addr := fmt.Sprintf("127.0.0.1:%d", basePort+i)
		addrs[i] = addr
		candidates[i] = member.Candidate{ProTxHash: id, OperatorKey: pubBytes, Addr: addr}
		privKeys[i] = priv
	}

	fakeChain := store.NewChain()
	registry := &store.Registry{Candidates: candidates}

	if cfg.MetricsAddr != "" {
		metrics.Start(l.Named("metrics"), cfg.MetricsAddr)
	}

	nodes := make([]*node, n)
	for i := 0; i < n; i++ {
		nodeLog := l.Named(fmt.Sprintf("node.%d", i)).With("addr", addrs[i])

		c := coordinator.New(cfg, coordinator.Deps{
			Log:         nodeLog,
			Chain:       fakeChain,
			Registry:    registry,
			Connections: store.NewConnections(),
			Broadcaster: llmqnet.NewGRPCBroadcaster(nodeLog, addrs[i]),
			Codec:       wire.NewJSONCodec(),
			Scheme:      scheme,
			Scorer:      store.NewScorer(),
			Identity: scheduler.Identity{
				ProTxHash:  candidates[i].ProTxHash,
				PrivateKey: privKeys[i],
			},
			Sporks:        params.StaticSporks{},
			BlockInterval: blockInterval,
			OnFinalized: func(t params.QuorumType, base chain.BaseBlock, sig []byte) {
				nodeLog.Infow("llmqd: quorum finalized", "type", t, "height", base.Height, "sig_len", len(sig))
			},
		}, cfg.Quorums)

		srv := llmqnet.NewServer(nodeLog, c.Dispatch)
		diagAddr := fmt.Sprintf("127.0.0.1:%d", diagBasePort+i)
		diagServer := &http.Server{Addr: diagAddr, Handler: llmqnet.Diagnostics(c), ReadHeaderTimeout: 3 * time.Second}

		nodes[i] = &node{addr: addrs[i], log: nodeLog, coord: c, grpcServer: srv, diagServer: diagServer}

		go func(n *node, addr string) {
			if err := n.grpcServer.Serve(ctx, addr); err != nil {
				n.log.Warnw("llmqd: grpc server stopped", "err", err)
			}
		}(nodes[i], addrs[i])

		go func(n *node) {
			if err := n.diagServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				n.log.Warnw("llmqd: diagnostics server stopped", "err", err)
			}
		}(nodes[i])
	}

	l.Infow("llmqd: demo network up", "nodes", n, "base_port", basePort, "diag_base_port", diagBasePort)

	for _, nd := range nodes {
		nd.coord.Start(ctx)
	}

	tip, err := fakeChain.Tip(ctx)
	if err != nil {
		return err
	}
	for _, nd := range nodes {
		nd.coord.UpdatedBlockTip(tip)
	}

	ticker := time.NewTicker(blockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.Infow("llmqd: shutting down")
			return shutdown(nodes)
		case <-ticker.C:
			newTip := fakeChain.Extend(1)
			for _, nd := range nodes {
				nd.coord.UpdatedBlockTip(newTip)
			}
		}
	}
}

// shutdown stops every node's coordinator and diagnostics server, joining
// any errors with go-multierror so one failed shutdown step does not mask
// the rest.
func shutdown(nodes []*node) error {
	var result error
	for _, nd := range nodes {
		nd.coord.Stop()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := nd.diagServer.Shutdown(shutCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: diagnostics shutdown: %w", nd.addr, err))
		}
		cancel()
	}
	return result
}

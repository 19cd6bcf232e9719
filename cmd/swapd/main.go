// Package main provides swapd, an RFC003 atomic-swap daemon: a minimal P2P
// node that negotiates, watches and drives Bitcoin/Ethereum HTLC swaps.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/swapd/internal/announce"
	"github.com/klingon-exchange/swapd/internal/backend"
	"github.com/klingon-exchange/swapd/internal/config"
	"github.com/klingon-exchange/swapd/internal/contracts/htlc"
	"github.com/klingon-exchange/swapd/internal/coordinator"
	"github.com/klingon-exchange/swapd/internal/ledger"
	lnbitcoin "github.com/klingon-exchange/swapd/internal/ledger/bitcoin"
	"github.com/klingon-exchange/swapd/internal/ledger/ethereum"
	"github.com/klingon-exchange/swapd/internal/node"
	"github.com/klingon-exchange/swapd/internal/persistence"
	"github.com/klingon-exchange/swapd/internal/rfc003"
	"github.com/klingon-exchange/swapd/internal/rpc"
	"github.com/klingon-exchange/swapd/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir      = flag.String("data-dir", "~/.swapd", "Data directory")
		configFile   = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiSocket    = flag.String("api", "", "HTTP API socket (host:port), overrides config")
		logLevel     = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		manualAccept = flag.Bool("manual-accept", false, "Require swap_accept/swap_decline over the API instead of auto-declining every proposal")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("swapd %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	log := logging.New(logging.DefaultConfig())
	logging.SetDefault(log)

	configPath := *configFile
	if configPath == "" {
		configPath = config.ExpandPath(filepath.Join(*dataDir, config.FileName))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	if *apiSocket != "" {
		cfg.HTTPAPI.Socket = *apiSocket
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = *dataDir
	}

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("config loaded", "path", configPath)

	dataPath := config.ExpandPath(cfg.Data.Dir)
	if err := os.MkdirAll(dataPath, 0700); err != nil {
		log.Fatal("failed to create data directory", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := persistence.New(&persistence.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("failed to open persistence store", "error", err)
	}
	defer store.Close()
	log.Info("persistence store opened", "path", dataPath)

	swapStore := rfc003.NewStore()

	registry := ledger.NewRegistry()
	if err := registerBitcoinCell(registry, cfg); err != nil {
		log.Fatal("failed to configure bitcoin ledger cell", "error", err)
	}
	if err := registerEthereumCell(registry, cfg); err != nil {
		log.Fatal("failed to configure ethereum ledger cell", "error", err)
	}

	nodeCfg := translateNodeConfig(cfg, dataPath)
	p2pNode, err := node.New(ctx, nodeCfg)
	if err != nil {
		log.Fatal("failed to create p2p node", "error", err)
	}

	p2pNode.SetPeerStoreAdapter(node.NewPeerStoreAdapter(store))

	// The coordinator needs the announce service to send outbound
	// announces, and the announce service needs the coordinator's
	// HandleAnnounce as its inbound handler. Break the cycle with a
	// forwarding closure over coord, filled in once the coordinator exists.
	var coord *coordinator.Coordinator
	announceSvc := announce.NewService(p2pNode.Host(), func(ctx context.Context, from peer.ID, req announce.Request) announce.Reply {
		return coord.HandleAnnounce(ctx, from, req)
	})

	coord = coordinator.NewCoordinator(coordinator.Config{
		Store:       swapStore,
		Registry:    registry,
		Announce:    announceSvc,
		Persistence: store,
	})
	if *manualAccept {
		coord.SetPolicy(coord.ManualAcceptPolicy(announce.Timeout))
	} else {
		coord.SetPolicy(autoDeclinePolicy)
	}
	defer coord.Close()

	if err := announceSvc.Start(); err != nil {
		log.Fatal("failed to start announce service", "error", err)
	}
	defer announceSvc.Stop()

	if err := coord.Restore(ctx); err != nil {
		log.Fatal("failed to restore persisted swaps", "error", err)
	}
	log.Info("coordinator restored", "swaps", len(coord.ListSwaps()))

	if err := p2pNode.Start(); err != nil {
		log.Fatal("failed to start p2p node", "error", err)
	}
	defer p2pNode.Stop()
	log.Info("node started", "peer_id", p2pNode.ID().String())

	rpcServer := rpc.NewServer(p2pNode, coord)
	rpcCfg := rpc.Config{
		Socket:         cfg.HTTPAPI.Socket,
		CORSMode:       translateCORSMode(cfg.HTTPAPI.CORS.Mode),
		AllowedOrigins: cfg.HTTPAPI.CORS.AllowedOrigins,
	}
	if err := rpcServer.Start(rpcCfg); err != nil {
		log.Fatal("failed to start rpc server", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := rpcServer.Stop(shutdownCtx); err != nil {
		log.Warn("rpc server shutdown error", "error", err)
	}
}

// autoDeclinePolicy declines every inbound proposal. It is the safe default
// when no operator is watching the API for swaps_pending.
func autoDeclinePolicy(from peer.ID, req rfc003.SwapRequest) (bool, rfc003.SwapAccept, string) {
	return false, rfc003.SwapAccept{}, "node is not accepting swaps automatically; run with -manual-accept"
}

func translateCORSMode(m config.CORSMode) rpc.CORSMode {
	switch m {
	case config.CORSAll:
		return rpc.CORSAll
	case config.CORSList:
		return rpc.CORSList
	default:
		return rpc.CORSNone
	}
}

// translateNodeConfig maps the daemon-level config (spec.md §6's dotted
// options) onto the libp2p node's own config shape, reconciling the two
// packages' independent network-type enums.
func translateNodeConfig(cfg *config.Config, dataPath string) *node.Config {
	nodeCfg := node.DefaultConfig()
	nodeCfg.NetworkType = node.NetworkMainnet
	if cfg.Bitcoin.Network != config.BitcoinMainnet {
		nodeCfg.NetworkType = node.NetworkTestnet
	}
	if len(cfg.Network.Listen) > 0 {
		nodeCfg.Network.ListenAddrs = cfg.Network.Listen
	}
	nodeCfg.Storage.DataDir = dataPath
	nodeCfg.Identity.KeyFile = filepath.Join(dataPath, "node.key")
	nodeCfg.Logging.Level = cfg.Logging.Level
	return nodeCfg
}

// chainParams resolves the chaincfg.Params for the configured Bitcoin
// network. Regtest shares testnet's libp2p network namespace (internal/
// node.Config has no regtest notion); it only changes the HTLC script's
// chain parameters.
func chainParams(net config.BitcoinNetwork) *chaincfg.Params {
	switch net {
	case config.BitcoinTestnet:
		return &chaincfg.TestNet3Params
	case config.BitcoinRegtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

func registerBitcoinCell(registry *ledger.Registry, cfg *config.Config) error {
	b, err := bitcoinBackend(cfg.Bitcoin)
	if err != nil {
		return fmt.Errorf("bitcoin backend: %w", err)
	}
	if b == nil {
		return nil
	}
	params := chainParams(cfg.Bitcoin.Network)
	cache := ledger.NewBlockCache(256)

	watcher := lnbitcoin.NewWatcher(b, cache, params)
	adapter := lnbitcoin.NewAdapterWithBackend(params, b)
	registry.Register(rfc003.LedgerBitcoin, rfc003.AssetBitcoin, watcher, adapter)
	return nil
}

// bitcoinBackend constructs the backend.Backend the Bitcoin cell polls,
// per cfg.Bitcoin.BackendType: a direct node RPC connection by default, or
// one of the public chain-indexer APIs for operators who don't run their
// own node. Returns (nil, nil) when the selected backend has no URL/server
// configured, matching the prior "no node_url, no cell" behavior.
func bitcoinBackend(cfg config.BitcoinConfig) (backend.Backend, error) {
	switch cfg.BackendType {
	case config.BitcoinBackendMempool:
		if cfg.NodeURL == "" {
			return nil, nil
		}
		return backend.NewMempoolBackend(cfg.NodeURL), nil
	case config.BitcoinBackendEsplora:
		if cfg.NodeURL == "" {
			return nil, nil
		}
		return backend.NewEsploraBackend(cfg.NodeURL), nil
	case config.BitcoinBackendBlockbook:
		if cfg.NodeURL == "" {
			return nil, nil
		}
		return backend.NewBlockbookBackend(cfg.NodeURL), nil
	case config.BitcoinBackendElectrum:
		if len(cfg.ElectrumServers) == 0 {
			return nil, nil
		}
		return backend.NewElectrumBackend(cfg.ElectrumServers, cfg.ElectrumTLS), nil
	case config.BitcoinBackendJSONRPC, "":
		if cfg.NodeURL == "" {
			return nil, nil
		}
		return backend.NewJSONRPCBackend(cfg.NodeURL, backend.RPCTypeBitcoin, cfg.RPCUser, cfg.RPCPass), nil
	default:
		return nil, fmt.Errorf("unknown bitcoin.backend_type %q", cfg.BackendType)
	}
}

func registerEthereumCell(registry *ledger.Registry, cfg *config.Config) error {
	if cfg.Ethereum.NodeURL == "" {
		return nil
	}
	contract := config.GetHTLCContract(cfg.Ethereum.ChainID)
	client, err := htlc.NewClient(cfg.Ethereum.NodeURL, contract)
	if err != nil {
		return fmt.Errorf("ethereum client: %w", err)
	}

	adapter := ethereum.NewAdapter(client)
	// NewWatcher takes a fixed counterparty identity; the registry holds
	// one watcher per (ledger, asset) cell, so a single global watcher
	// cannot vary its counterparty per swap. With a blank identity the
	// watcher derives each swap's id from that swap's own RefundIdentity,
	// the same input Adapter.Compile uses; see DESIGN.md.
	watcher := ethereum.NewWatcher(client, "")
	registry.Register(rfc003.LedgerEthereum, rfc003.AssetEther, watcher, adapter)
	return nil
}

// Command ccn runs one subprocess of the Core Channel Node per invocation:
// sync-txs consumes chain transactions off the broker and feeds pending
// messages into the processing queue; process-messages verifies, parses,
// and commits pending messages to the relational store; api is a stub for
// the read-side HTTP surface. Each accepts --config and --key, matching
// spec.md §6's process CLI surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/aleph-im/go-ccn/broker"
	"github.com/aleph-im/go-ccn/ccnnode"
	"github.com/aleph-im/go-ccn/chaindata"
	"github.com/aleph-im/go-ccn/chainsig"
	"github.com/aleph-im/go-ccn/config"
	"github.com/aleph-im/go-ccn/handlers"
	"github.com/aleph-im/go-ccn/log"
	"github.com/aleph-im/go-ccn/metrics"
	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/pendingmsg"
	"github.com/aleph-im/go-ccn/pendingtx"
	"github.com/aleph-im/go-ccn/publisher"
	"github.com/aleph-im/go-ccn/scheduler"
	"github.com/aleph-im/go-ccn/storageservice"
	"github.com/aleph-im/go-ccn/store"
)

var configFlag = &cli.StringFlag{
	Name:     "config",
	Aliases:  []string{"c"},
	Usage:    "path to the node's TOML configuration file",
	Required: true,
}

var keyFlag = &cli.StringFlag{
	Name:     "key",
	Aliases:  []string{"k"},
	Usage:    "path to this node's identity key file (read and checked to be non-empty at startup)",
	Required: true,
}

func main() {
	app := &cli.App{
		Name:  "ccn",
		Usage: "aleph.im Core Channel Node",
		Commands: []*cli.Command{
			syncTxsCommand,
			processMessagesCommand,
			apiCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.New("component", "cmd/ccn").Error("fatal", "err", err)
		os.Exit(1)
	}
}

var syncTxsCommand = &cli.Command{
	Name:  "sync-txs",
	Usage: "consume chain transactions and enqueue their pending messages",
	Flags: []cli.Flag{configFlag, keyFlag},
	Action: func(c *cli.Context) error {
		return runSyncTxs(c.Context, c.String("config"), c.String("key"))
	},
}

var processMessagesCommand = &cli.Command{
	Name:  "process-messages",
	Usage: "verify, parse, and commit pending messages",
	Flags: []cli.Flag{configFlag, keyFlag},
	Action: func(c *cli.Context) error {
		return runProcessMessages(c.Context, c.String("config"), c.String("key"))
	},
}

var apiCommand = &cli.Command{
	Name:  "api",
	Usage: "serve the read-side HTTP API (stub)",
	Flags: []cli.Flag{configFlag, keyFlag},
	Action: func(c *cli.Context) error {
		return runAPI(c.Context, c.String("config"), c.String("key"))
	},
}

// loadNodeKey reads the node's identity key file. Its bytes aren't
// interpreted yet by either subprocess; --key is threaded through now so
// that signing republished messages and the api subcommand's auth both
// have a stable place to read it from.
func loadNodeKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading node key: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("node key file %q is empty", path)
	}
	return key, nil
}

func waitForShutdown(ctx context.Context, node *ccnnode.Node) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case <-sigCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ccnnode.ShutdownTimeout)
	defer cancel()
	node.Shutdown(shutdownCtx)
}

// runSyncTxs wires the Chain Data Service and the Pending-Tx Processor:
// consume ChainTx notifications off the broker, resolve each sync protocol,
// and admit the resulting candidates through the Publisher.
func runSyncTxs(ctx context.Context, configPath, keyPath string) error {
	logger := log.New("component", "cmd/ccn", "subprocess", "sync-txs")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if _, err := loadNodeKey(keyPath); err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	storage := buildStorage(cfg, st)

	br, err := broker.Dial(cfg.Broker.URL)
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}
	if err := br.DeclareTopology(broker.PendingTxExchange, broker.PendingTxQueue); err != nil {
		return fmt.Errorf("declaring pending-tx topology: %w", err)
	}
	if err := br.DeclareTopology(broker.PendingMsgExchange, broker.PendingMsgQueue); err != nil {
		return fmt.Errorf("declaring pending-message topology: %w", err)
	}

	schedCfg := cfg.Scheduler()
	seenIDs, err := chaindata.NewLRUSeenIDs(schedCfg.SeenIDsWindow)
	if err != nil {
		return fmt.Errorf("building seen-ids cache: %w", err)
	}

	pub := publisher.New(st, br)
	cd := chaindata.New(storage, st)
	ptx := pendingtx.New(st, cd, pub, seenIDs)

	node := ccnnode.New()
	node.Register("store", ccnnode.FuncLifecycle{StopFunc: st.Close})
	node.Register("broker", ccnnode.FuncLifecycle{StopFunc: br.Close})
	node.Register("metrics", metrics.NewServer(cfg.MetricsAddr))
	node.Register("pending-tx-consumer", &pendingTxLifecycle{broker: br, processor: ptx})

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	logger.Info("sync-txs started", "datadir", cfg.DataDir)
	waitForShutdown(ctx, node)
	return nil
}

// runProcessMessages wires the Pending-Message Processor, its type handler
// registry, and the scheduler's retry/sweep loop.
func runProcessMessages(ctx context.Context, configPath, keyPath string) error {
	logger := log.New("component", "cmd/ccn", "subprocess", "process-messages")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if _, err := loadNodeKey(keyPath); err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	storage := buildStorage(cfg, st)

	br, err := broker.Dial(cfg.Broker.URL)
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}
	if err := br.DeclareTopology(broker.PendingMsgExchange, broker.PendingMsgQueue); err != nil {
		return fmt.Errorf("declaring pending-message topology: %w", err)
	}

	sig := chainsig.NewRegistry()
	handlerRegistry := handlers.NewRegistry()

	schedCfg := cfg.Scheduler()
	sched, err := scheduler.New(schedCfg, st)
	if err != nil {
		return fmt.Errorf("building scheduler: %w", err)
	}

	pmsg := pendingmsg.New(st, storage, sig, handlerRegistry, sched, cfg.Processing())

	node := ccnnode.New()
	node.Register("store", ccnnode.FuncLifecycle{StopFunc: st.Close})
	node.Register("broker", ccnnode.FuncLifecycle{StopFunc: br.Close})
	node.Register("metrics", metrics.NewServer(cfg.MetricsAddr))
	node.Register("pending-message-consumer", &pendingMsgLifecycle{broker: br, processor: pmsg})
	node.Register("scheduler", &schedulerLifecycle{scheduler: sched, processor: pmsg})

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	logger.Info("process-messages started", "datadir", cfg.DataDir)
	waitForShutdown(ctx, node)
	return nil
}

// runAPI is a stub: it serves /healthz and metrics and otherwise blocks,
// standing in for the read-side query surface (GET /messages, /aggregates,
// /posts) spec.md §6 scopes out of this node's write path.
func runAPI(ctx context.Context, configPath, keyPath string) error {
	logger := log.New("component", "cmd/ccn", "subprocess", "api")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if _, err := loadNodeKey(keyPath); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	node := ccnnode.New()
	node.Register("metrics", metrics.NewServer(cfg.MetricsAddr))
	node.Register("api-http", &apiLifecycle{addr: cfg.APIAddr, mux: mux})

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	logger.Info("api started (stub)")
	waitForShutdown(ctx, node)
	return nil
}

func buildStorage(cfg *config.Config, st *store.Store) *storageservice.Service {
	var ipfs storageservice.IPFSClient
	if cfg.Storage.IPFSGateway != "" {
		ipfs = storageservice.NewHTTPGatewayClient(cfg.Storage.IPFSGateway)
	}
	cache := storageservice.NewRedisCache(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB)
	return storageservice.New(st, cache, ipfs, cfg.Storage.PinEnabled)
}

// pendingTxLifecycle runs the Pending-Tx Processor's consumer loop for the
// lifetime of the process, cancelling its own context on Stop.
type pendingTxLifecycle struct {
	broker    *broker.Broker
	processor *pendingtx.Processor
	cancel    context.CancelFunc
}

func (l *pendingTxLifecycle) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	deliveries, err := l.broker.Consume(runCtx, broker.PendingTxQueue)
	if err != nil {
		cancel()
		return err
	}
	go l.processor.Run(runCtx, deliveries)
	return nil
}

func (l *pendingTxLifecycle) Stop() error {
	if l.cancel != nil {
		l.cancel()
	}
	return nil
}

// pendingMsgLifecycle runs the Pending-Message Processor's consumer loop.
type pendingMsgLifecycle struct {
	broker    *broker.Broker
	processor *pendingmsg.Processor
	cancel    context.CancelFunc
}

func (l *pendingMsgLifecycle) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	deliveries, err := l.broker.Consume(runCtx, broker.PendingMsgQueue)
	if err != nil {
		cancel()
		return err
	}
	go l.processor.Run(runCtx, deliveries)
	return nil
}

func (l *pendingMsgLifecycle) Stop() error {
	if l.cancel != nil {
		l.cancel()
	}
	return nil
}

// schedulerLifecycle runs the sweep/due-message scan loop, handing each due
// message to the processor's bounded path.
type schedulerLifecycle struct {
	scheduler *scheduler.Scheduler
	processor *pendingmsg.Processor
	cancel    context.CancelFunc
}

func (l *schedulerLifecycle) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go l.scheduler.Run(runCtx, func(pm *model.PendingMessage) {
		if err := l.processor.ProcessBounded(runCtx, pm); err != nil {
			log.New("component", "cmd/ccn").Error("scheduled process failed", "item_hash", pm.ItemHash, "err", err)
		}
	})
	return nil
}

func (l *schedulerLifecycle) Stop() error {
	if l.cancel != nil {
		l.cancel()
	}
	return nil
}

// apiLifecycle runs the stub HTTP server for the lifetime of the process.
type apiLifecycle struct {
	addr   string
	mux    *http.ServeMux
	server *http.Server
}

func (l *apiLifecycle) Start(ctx context.Context) error {
	addr := l.addr
	if addr == "" {
		addr = ":8080"
	}
	l.server = &http.Server{Addr: addr, Handler: l.mux}
	go func() {
		if err := l.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.New("component", "cmd/ccn", "subprocess", "api").Error("http server failed", "err", err)
		}
	}()
	return nil
}

func (l *apiLifecycle) Stop() error {
	if l.server == nil {
		return nil
	}
	return l.server.Shutdown(context.Background())
}

// Command lotterynode starts a single-sequencer lottery chain node.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/tolelom/tolotto/config"
	"github.com/tolelom/tolotto/consensus"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/events"
	"github.com/tolelom/tolotto/indexer"
	"github.com/tolelom/tolotto/keeper"
	"github.com/tolelom/tolotto/metrics"
	"github.com/tolelom/tolotto/oracle"
	"github.com/tolelom/tolotto/rpc"
	"github.com/tolelom/tolotto/storage"
	"github.com/tolelom/tolotto/vm"
	"github.com/tolelom/tolotto/vm/modules/lotto"
	"github.com/tolelom/tolotto/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/tolotto/vm/modules/economy"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file (.json or .yaml)")
	keyPath := flag.String("key", "sequencer.key", "path to the sequencer keystore")
	oracleKeyPath := flag.String("oracle-key", "", "path to an oracle keystore; enables the randomness fulfiller")
	genKey := flag.Bool("genkey", false, "generate a new key at -key and exit")
	importKey := flag.Bool("import", false, "encrypt the hex key in TOLOTTO_PRIVKEY into -key and exit")
	flag.Parse()

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithError(err).Warn("load .env")
	}

	// Secrets come from the environment; CLI flags leak via ps.
	password := os.Getenv("TOLOTTO_PASSWORD")
	if password == "" {
		logrus.Warn("TOLOTTO_PASSWORD not set, keystores use an empty password")
	}

	// ---- key management modes ----
	if *genKey || *importKey {
		var (
			w   *wallet.Wallet
			err error
		)
		if *importKey {
			w, err = wallet.FromHex(os.Getenv("TOLOTTO_PRIVKEY"))
		} else {
			w, err = wallet.Generate()
		}
		if err != nil {
			logrus.Fatal(err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			logrus.Fatal(err)
		}
		fmt.Printf("Public key: %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		logrus.Fatalf("logger: %v", err)
	}
	log = log.WithField("node", cfg.NodeID)

	// ---- load keys ----
	privKey, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		log.WithError(err).Fatal("load sequencer key")
	}
	sequencerWallet := wallet.New(privKey)

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.WithError(err).Fatal("mkdir data dir")
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer db.Close()

	// State, blocks and indexes share one DB under different key prefixes.
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(cfg.Genesis.ChainID, storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		log.WithError(err).Fatal("blockchain init")
	}

	// ---- genesis block (if fresh chain) ----
	if bc.Tip() == nil {
		genesisBlock, err := config.CreateGenesisBlock(cfg, state, privKey, time.Now())
		if err != nil {
			log.WithError(err).Fatal("genesis")
		}
		if err := bc.AddBlock(genesisBlock); err != nil {
			log.WithError(err).Fatal("add genesis")
		}
		log.WithField("hash", genesisBlock.Hash).Info("genesis block committed")
	}
	params, err := lotto.Params(state)
	if err != nil {
		log.WithError(err).Fatal("lottery params")
	}

	// ---- events, indexer, metrics ----
	emitter := events.NewEmitter(log)
	idx := indexer.New(db, emitter, log)
	m := metrics.New()
	m.Subscribe(emitter)
	m.BlockHeight.Set(float64(bc.Height()))

	// ---- mempool, executor, sequencer ----
	mempool := core.NewMempool(cfg.Genesis.ChainID)
	exec := vm.NewExecutor(state, emitter, log)
	seq := consensus.New(bc, state, mempool, exec, emitter, privKey,
		consensus.WithMaxBlockTxs(cfg.MaxBlockTxs),
		consensus.WithLogger(log),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	nonces := map[string]*wallet.NonceSource{
		sequencerWallet.PubKey(): wallet.StateNonces(state, sequencerWallet.PubKey()),
	}

	// ---- oracle fulfiller ----
	if *oracleKeyPath != "" {
		oracleKey, err := wallet.LoadKey(*oracleKeyPath, password)
		if err != nil {
			log.WithError(err).Fatal("load oracle key")
		}
		ow := wallet.New(oracleKey)
		if !slices.Contains(params.Oracles, ow.PubKey()) {
			log.WithField("oracle", ow.PubKey()).Warn("oracle key is not in the genesis oracle list; deliveries will fail")
		}
		if _, ok := nonces[ow.PubKey()]; !ok {
			nonces[ow.PubKey()] = wallet.StateNonces(state, ow.PubKey())
		}
		f := oracle.New(cfg.Genesis.ChainID, ow, mempool, nonces[ow.PubKey()], log)
		f.Subscribe(emitter)
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Run(ctx)
		}()
		log.WithField("oracle", ow.PubKey()).Info("randomness fulfiller running")
	}

	// ---- draw keeper ----
	if cfg.DrawSchedule != "" && slices.Contains(params.Admins, sequencerWallet.PubKey()) {
		k := keeper.New(cfg.Genesis.ChainID, sequencerWallet, idx, state, mempool, nonces[sequencerWallet.PubKey()], log)
		k.Subscribe(emitter)
		if err := k.Start(cfg.DrawSchedule); err != nil {
			log.WithError(err).Fatal("keeper")
		}
		defer k.Stop()
	}

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(bc, mempool, state, idx, cfg.Genesis.ChainID, log)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, rpc.ServerOptions{
		AuthToken: cfg.RPCAuthToken,
		RateLimit: cfg.RPCRateLimit,
		Burst:     cfg.RPCBurst,
		Gatherer:  m.Registry,
		Logger:    log,
	})
	if err := rpcServer.Start(); err != nil {
		log.WithError(err).Fatal("rpc start")
	}
	defer rpcServer.Stop()
	if cfg.RPCAuthToken != "" {
		log.Info("RPC bearer token required for sendTx")
	}

	// ---- sequencer loop ----
	wg.Add(1)
	go func() {
		defer wg.Done()
		seq.Run(ctx, time.Duration(cfg.BlockIntervalMS)*time.Millisecond)
	}()
	log.WithField("sequencer", seq.PubKey()).Info("sequencer running")

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	// 1. Stop block production and background workers first.
	cancel()
	wg.Wait()

	// 2. Deferred calls run in LIFO: rpcServer.Stop → keeper.Stop → db.Close
	log.Info("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logrus.WithField("path", path).Warn("config file not found, using defaults")
			cfg = config.DefaultConfig()
			if err := config.ApplyEnv(cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (logrus.FieldLogger, error) {
	l := logrus.New()
	if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		l.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}

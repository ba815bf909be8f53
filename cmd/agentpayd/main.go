package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AgentPay-Chain/internal/admin"
	"AgentPay-Chain/internal/api"
	"AgentPay-Chain/internal/bank"
	banketh "AgentPay-Chain/internal/bank/ethereum"
	"AgentPay-Chain/internal/config"
	"AgentPay-Chain/internal/escrow"
	"AgentPay-Chain/internal/events"
	"AgentPay-Chain/internal/identity"
	identityeth "AgentPay-Chain/internal/identity/ethereum"
	"AgentPay-Chain/internal/observability/alerting"
	"AgentPay-Chain/internal/reputation"
	"AgentPay-Chain/internal/split"
	storagemysql "AgentPay-Chain/internal/storage/mysql"
	"AgentPay-Chain/internal/trust"
	"AgentPay-Chain/pkg/logger"
)

// main 是结算引擎守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentpayd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTPAY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentpay.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Runtime.DataDir != "" {
		if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
			return err
		}
	}

	// 事件总线先于业务组件建立，管理面与结算面共用同一条审计流。
	bus, err := createEventBus(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	escrowStore, splitStore, closeStores, err := createStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	directory, closeDirectory, err := createDirectory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDirectory()

	oracle, closeOracle, err := createOracle(cfg)
	if err != nil {
		return err
	}
	defer closeOracle()

	moneyBank, closeBank, err := createBank(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBank()

	settings, err := admin.NewSettings(admin.Config{
		Admin:          identity.Address(cfg.Settlement.Admin),
		ProtocolFeeBps: cfg.Settlement.ProtocolFeeBps,
		Treasury:       identity.Address(cfg.Settlement.Treasury),
	}, bus)
	if err != nil {
		return err
	}

	alerts := alerting.NewFanout(&alerting.LogNotifier{})

	escrowSvc, err := escrow.NewService(escrowStore, directory, moneyBank, settings, bus,
		escrow.WithAlerts(alerts))
	if err != nil {
		return err
	}
	splitSvc, err := split.NewService(splitStore, directory, moneyBank, settings, bus,
		split.WithAlerts(alerts))
	if err != nil {
		return err
	}

	gate := trust.NewGate(oracle)

	recorder := events.NewRecorder(bus, events.WithRecorderWorkers(cfg.Events.Workers))
	go func() {
		if err := recorder.Start(ctx); err != nil && ctx.Err() == nil {
			logger.L().Error("审计记录器退出", "error", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, escrowSvc, splitSvc, gate, settings)
	return server.Start(ctx)
}

func initLogger(cfg *config.Config) error {
	logCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: "json",
	}
	if cfg.Logging.AuditDir != "" {
		logCfg.Audit = logger.AuditConfig{
			Enabled:   true,
			Path:      filepath.Join(cfg.Logging.AuditDir, "audit.log"),
			MaxSizeMB: int(cfg.Logging.AuditMaxSize),
		}
	}
	return logger.Init(logCfg)
}

func createEventBus(cfg *config.Config) (events.Bus, error) {
	switch cfg.Events.Driver {
	case "", "memory":
		return events.NewMemoryBus(cfg.Events.BufferSize), nil
	case "redis":
		return events.NewRedisBus(events.RedisConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Queue:    cfg.Events.Redis.Queue,
		})
	case "rabbitmq":
		return events.NewRabbitMQBus(events.RabbitMQConfig{
			URL:     cfg.Events.RabbitMQ.URL,
			Queue:   cfg.Events.RabbitMQ.Queue,
			Durable: true,
		})
	default:
		return nil, fmt.Errorf("不支持的事件总线驱动: %q", cfg.Events.Driver)
	}
}

func createStores(ctx context.Context, cfg *config.Config) (escrow.Store, split.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return escrow.NewMemoryStore(), split.NewMemoryStore(), func() {}, nil
	case "mysql":
		db, err := storagemysql.Open(ctx, storagemysql.Config{
			DSN:          cfg.Storage.DSN,
			MaxOpenConns: cfg.Storage.MaxOpenConns,
			MaxIdleConns: cfg.Storage.MaxIdleConns,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Storage.RunMigrations {
			if err := storagemysql.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, nil, nil, err
			}
		}
		escrowStore, err := escrow.NewMySQLStore(db)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		splitStore, err := split.NewMySQLStore(db)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return escrowStore, splitStore, func() { db.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("不支持的存储驱动: %q", cfg.Storage.Driver)
	}
}

func createDirectory(ctx context.Context, cfg *config.Config) (identity.Directory, func(), error) {
	switch cfg.Identity.Driver {
	case "", "memory":
		return identity.NewMemoryDirectory(), func() {}, nil
	case "ethereum":
		defs, err := identity.LoadChainDefinitions(cfg.Identity.ChainFile)
		if err != nil {
			return nil, nil, err
		}
		def, ok := defs.Chains[cfg.Identity.Chain]
		if !ok {
			return nil, nil, fmt.Errorf("链配置中不存在 %q", cfg.Identity.Chain)
		}
		dir, err := identityeth.NewDirectory(ctx, identityeth.Config{
			Name:            cfg.Identity.Chain,
			RPCURL:          def.RPCURL,
			RegistryAddress: def.RegistryAddress,
		})
		if err != nil {
			return nil, nil, err
		}
		return dir, dir.Close, nil
	default:
		return nil, nil, fmt.Errorf("不支持的身份目录驱动: %q", cfg.Identity.Driver)
	}
}

func createOracle(cfg *config.Config) (reputation.Oracle, func(), error) {
	var oracle reputation.Oracle
	switch cfg.Reputation.Driver {
	case "", "memory":
		oracle = reputation.NewMemoryOracle()
	default:
		return nil, nil, fmt.Errorf("不支持的声誉预言机驱动: %q", cfg.Reputation.Driver)
	}

	closer := func() {}
	if cfg.Reputation.Cache.Enabled {
		cached, err := reputation.NewCachedOracle(oracle, reputation.CacheConfig{
			Address:  cfg.Reputation.Cache.Address,
			Password: cfg.Reputation.Cache.Password,
			DB:       cfg.Reputation.Cache.DB,
			TTL:      time.Duration(cfg.Reputation.Cache.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		oracle = cached
		closer = func() { _ = cached.Close() }
	}
	return oracle, closer, nil
}

func createBank(ctx context.Context, cfg *config.Config) (bank.Bank, func(), error) {
	switch cfg.Bank.Driver {
	case "", "memory":
		return bank.NewMemoryBank(), func() {}, nil
	case "ethereum":
		b, err := banketh.NewBank(ctx, banketh.Config{
			RPCURL:          cfg.Bank.Ethereum.RPCURL,
			ContractAddress: cfg.Bank.Ethereum.ContractAddress,
			PrivateKey:      cfg.Bank.Ethereum.PrivateKey,
			ChainID:         cfg.Bank.Ethereum.ChainID,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	default:
		return nil, nil, fmt.Errorf("不支持的价值通道驱动: %q", cfg.Bank.Driver)
	}
}

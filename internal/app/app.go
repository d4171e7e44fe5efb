// Package app 提供 eidos-campaign 服务的应用生命周期管理
//
// ========================================
// eidos-campaign 服务说明
// ========================================
//
// ## 服务职责
// 消费活动合约事件流，维护可查询的聚合快照:
// 1. 事件源: 每条链一个 RPC 索引器，或 Kafka campaign-events
// 2. 聚合: Dispatcher 将每个事件在单个事务内写入实体与动态
// 3. 读接口: gin /api/v1，排行榜走 Redis 读缓存
//
// ## 单写者
// 每条链的 RPC 索引器持有 Redis 租约 (pkg/lock)，多副本时只有一个实例写入。
// Kafka 源依赖消费组的分区独占。
//
// ## Kafka
// - 消费: campaign-events (kafka.consume_events=true)
// - 生产: campaign-activity (kafka.publish_activity=true)
//
// ## 端口
// - HTTP: service.http_port
// - gRPC health: service.grpc_port
//
// ========================================
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/cache"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/config"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/contract"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/handler"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/kafka"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/router"
	"github.com/eidos-exchange/eidos/eidos-campaign/internal/service"
	"github.com/eidos-exchange/eidos/eidos-campaign/migrations"
	"github.com/eidos-exchange/eidos/eidos-campaign/pkg/lock"
	"github.com/eidos-exchange/eidos/eidos-campaign/pkg/logger"
	"github.com/eidos-exchange/eidos/eidos-campaign/pkg/migrate"
)

// chainIndexer 一条链的 RPC 事件源
type chainIndexer struct {
	chainID int64
	client  *blockchain.Client
	indexer *service.IndexerService
	lock    *lock.RedisLock
}

// App 应用
type App struct {
	cfg *config.Config

	// 基础设施
	db    *gorm.DB
	redis redis.UniversalClient

	// 仓储
	accountRepo    repository.AccountRepository
	campaignRepo   repository.CampaignRepository
	checkpointRepo repository.CheckpointRepository
	stakeRepo      repository.StakeRepository
	activityRepo   repository.ActivityRepository
	eventRepo      repository.ChainEventRepository

	// 服务
	dispatcher *service.Dispatcher
	querySvc   *service.QueryService
	indexers   []*chainIndexer

	// Kafka
	kafkaConsumer *kafka.Consumer
	kafkaProducer *kafka.Producer

	// 对外服务
	engine        *gin.Engine
	httpServer    *http.Server
	grpcServer    *grpc.Server
	healthServer  *health.Server
	healthHandler *handler.HealthHandler

	// 运行控制
	stopCh   chan struct{}
	stopOnce sync.Once
	fatalCh  chan error
	wg       sync.WaitGroup
}

// NewApp 创建应用
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		fatalCh: make(chan error, 1),
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	app.initRepositories()

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	if err := app.initSources(); err != nil {
		return nil, fmt.Errorf("failed to init event sources: %w", err)
	}

	app.initHTTP()
	app.initGRPC()

	return app, nil
}

// initInfrastructure 初始化数据库和 Redis
func (a *App) initInfrastructure() error {
	db, err := openDatabase(&a.cfg.Database)
	if err != nil {
		return err
	}
	a.db = db

	if err := migrateDatabase(db, a.cfg); err != nil {
		return err
	}
	logger.Info("database ready", zap.String("driver", a.cfg.Database.Driver))

	addrs := a.cfg.Redis.Addresses
	if len(addrs) == 0 {
		addrs = []string{"localhost:6379"}
	}
	a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	logger.Info("redis connected", zap.Strings("addrs", addrs))

	return nil
}

// openDatabase 按驱动打开数据库
func openDatabase(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		// SQLite 单写者
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	return db, nil
}

// migrateDatabase PostgreSQL 走版本化迁移，SQLite 走 AutoMigrate
func migrateDatabase(db *gorm.DB, cfg *config.Config) error {
	if cfg.Database.Driver == "sqlite" {
		return AutoMigrate(db)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return migrate.NewMigrator(sqlDB, cfg.Service.Name, logger.L()).Up(migrations.FS, ".")
}

// AutoMigrate 按模型建表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Account{},
		&model.Campaign{},
		&model.Checkpoint{},
		&model.Vote{},
		&model.Stake{},
		&model.Activity{},
		&model.ChainEvent{},
		&model.SyncCursor{},
	)
}

// initRepositories 初始化仓储
func (a *App) initRepositories() {
	a.accountRepo = repository.NewAccountRepository(a.db)
	a.campaignRepo = repository.NewCampaignRepository(a.db)
	a.checkpointRepo = repository.NewCheckpointRepository(a.db)
	a.stakeRepo = repository.NewStakeRepository(a.db)
	a.activityRepo = repository.NewActivityRepository(a.db)
	a.eventRepo = repository.NewChainEventRepository(a.db)

	logger.Info("repositories initialized")
}

// initServices 初始化分发器、聚合器和查询服务
func (a *App) initServices() error {
	a.dispatcher = service.NewDispatcher(repository.NewRepository(a.db), a.eventRepo, &service.DispatcherConfig{
		MaxRetries: a.cfg.Pipeline.TxMaxRetries,
	})

	aggregator := service.NewAggregator(a.accountRepo, a.campaignRepo, a.checkpointRepo, a.stakeRepo, a.activityRepo)
	if err := aggregator.Register(a.dispatcher); err != nil {
		return err
	}
	// 事件目录中的每个事件都必须有处理器，否则拒绝启动
	if err := a.dispatcher.Validate(); err != nil {
		return err
	}

	var leaderboardCache service.LeaderboardCache
	if a.cfg.Cache.Enabled {
		leaderboardCache = cache.NewLeaderboardCache(a.redis, time.Duration(a.cfg.Cache.LeaderboardTTLSec)*time.Second)
	}
	a.querySvc = service.NewQueryService(a.accountRepo, a.campaignRepo, a.checkpointRepo, a.stakeRepo, a.activityRepo, leaderboardCache)
	a.dispatcher.SetOnStateChanged(a.querySvc.OnStateChanged)

	logger.Info("services initialized", zap.Bool("cache", a.cfg.Cache.Enabled))
	return nil
}

// initSources 初始化事件源和动态发布
func (a *App) initSources() error {
	if a.cfg.Kafka.PublishActivity {
		producer, err := kafka.NewProducer(&kafka.ProducerConfig{
			Brokers:  a.cfg.Kafka.Brokers,
			ClientID: a.cfg.Kafka.ClientID,
			Topic:    a.cfg.Kafka.ActivityTopic,
		})
		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		a.kafkaProducer = producer
		a.dispatcher.SetOnActivityRecorded(producer.PublishActivities)
	}

	if a.cfg.Kafka.ConsumeEvents {
		consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
			Brokers:      a.cfg.Kafka.Brokers,
			GroupID:      a.cfg.Kafka.GroupID,
			Topic:        a.cfg.Kafka.EventsTopic,
			RetryBackoff: time.Duration(a.cfg.Pipeline.RetryBackoffMs) * time.Millisecond,
			Dispatcher:   a.dispatcher,
			OnFatal:      a.fail,
		})
		if err != nil {
			return fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		a.kafkaConsumer = consumer
		logger.Info("kafka event source initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
		return nil
	}

	locker := lock.NewRedisLocker(a.redis, "eidos:campaign:lock:", time.Duration(a.cfg.Pipeline.LockTTLSec)*time.Second)
	for i := range a.cfg.Chains {
		idx, err := a.newChainIndexer(&a.cfg.Chains[i], locker)
		if err != nil {
			return err
		}
		a.indexers = append(a.indexers, idx)
	}
	return nil
}

// bindings 将链配置转换为合约绑定
func bindings(chain *config.ChainConfig) ([]contract.Binding, error) {
	var out []contract.Binding
	add := func(kind model.ContractKind, addr string) error {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("chain %d: invalid %s address %q", chain.ChainID, kind, addr)
		}
		out = append(out, contract.Binding{Kind: kind, Address: common.HexToAddress(addr)})
		return nil
	}

	if err := add(model.ContractRegistry, chain.Registry); err != nil {
		return nil, err
	}
	for _, v := range chain.EthVaults {
		if err := add(model.ContractEthVault, v); err != nil {
			return nil, err
		}
	}
	for _, v := range chain.UsdcVaults {
		if err := add(model.ContractUsdcVault, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (a *App) newChainIndexer(chain *config.ChainConfig, locker *lock.RedisLocker) (*chainIndexer, error) {
	bs, err := bindings(chain)
	if err != nil {
		return nil, err
	}
	decoder, err := contract.NewDecoder(chain.ChainID, bs)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := blockchain.NewClient(ctx, &blockchain.ClientConfig{
		ChainID: chain.ChainID,
		RPCURLs: chain.RPCURLs,
	})
	if err != nil {
		return nil, fmt.Errorf("chain %d: failed to create blockchain client: %w", chain.ChainID, err)
	}

	indexer := service.NewIndexerService(client, decoder, a.dispatcher, a.eventRepo, &service.IndexerServiceConfig{
		ChainID:       chain.ChainID,
		PollInterval:  time.Duration(chain.PollIntervalMs) * time.Millisecond,
		BatchSize:     chain.BatchSize,
		Confirmations: chain.Confirmations,
		StartBlock:    chain.StartBlock,
	})
	indexer.SetOnFatal(a.fail)

	logger.Info("chain indexer initialized",
		zap.Int64("chain_id", chain.ChainID),
		zap.Int("contracts", len(bs)),
		zap.Int("healthy_rpcs", len(client.GetHealthyEndpoints())),
		zap.Uint64("confirmations", chain.Confirmations))

	return &chainIndexer{
		chainID: chain.ChainID,
		client:  client,
		indexer: indexer,
		lock:    locker.NewLock(fmt.Sprintf("indexer:%d", chain.ChainID)),
	}, nil
}

// initHTTP 初始化读接口
func (a *App) initHTTP() {
	gin.SetMode(gin.ReleaseMode)
	a.engine = gin.New()

	deps := map[string]handler.Pinger{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		},
	}
	statusProviders := make(map[int64]handler.IndexerStatusProvider, len(a.indexers))
	for _, idx := range a.indexers {
		deps[fmt.Sprintf("rpc_%d", idx.chainID)] = idx.client.HealthCheck
		statusProviders[idx.chainID] = idx.indexer
	}
	a.healthHandler = handler.NewHealthHandler(deps)

	r := router.New(a.engine)
	r.RegisterMiddleware()
	r.RegisterRoutes(&router.Handlers{
		Health:   a.healthHandler,
		Campaign: handler.NewCampaignHandler(a.querySvc),
		Account:  handler.NewAccountHandler(a.querySvc),
		Indexer:  handler.NewIndexerHandler(statusProviders),
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// initGRPC 初始化 gRPC 健康检查
func (a *App) initGRPC() {
	a.grpcServer = grpc.NewServer()
	a.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.healthServer)
	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// fail 事件流遇到致命错误，触发整体退出
func (a *App) fail(err error) {
	select {
	case a.fatalCh <- err:
	default:
	}
}

// Run 运行应用，阻塞直到收到退出信号、Stop 或致命错误
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Service.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	go func() {
		logger.Info("gRPC server listening", zap.Int("port", a.cfg.Service.GRPCPort))
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("HTTP server listening", zap.Int("port", a.cfg.Service.HTTPPort))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
			a.fail(err)
		}
	}()

	if a.kafkaConsumer != nil {
		if err := a.kafkaConsumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start kafka consumer: %w", err)
		}
	}

	for _, idx := range a.indexers {
		a.wg.Add(1)
		go a.runIndexer(ctx, idx)
	}

	a.healthHandler.SetReady(true)
	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_SERVING)

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-a.stopCh:
		logger.Info("shutdown requested")
	case runErr = <-a.fatalCh:
		logger.Error("event stream halted, shutting down", zap.Error(runErr))
	}

	cancel()
	a.shutdown()
	return runErr
}

// runIndexer 获取链租约后启动索引器，租约丢失视为致命错误
func (a *App) runIndexer(ctx context.Context, idx *chainIndexer) {
	defer a.wg.Done()

	log := logger.L().With(zap.Int64("chain_id", idx.chainID), zap.String("lock", idx.lock.Key()))
	log.Info("waiting for chain lease")
	if err := idx.lock.AcquireOrWait(ctx, time.Duration(a.cfg.Pipeline.LockWaitMs)*time.Millisecond); err != nil {
		if ctx.Err() == nil {
			a.fail(fmt.Errorf("chain %d: acquire lease: %w", idx.chainID, err))
		}
		return
	}
	log.Info("chain lease acquired")

	if err := idx.indexer.Start(ctx); err != nil {
		a.fail(fmt.Errorf("chain %d: start indexer: %w", idx.chainID, err))
		a.releaseLease(idx)
		return
	}

	idx.lock.KeepAlive(ctx, func(err error) {
		a.fail(fmt.Errorf("chain %d: lease lost: %w", idx.chainID, err))
	})

	// ctx 结束或租约丢失后先停写再释放租约
	if err := idx.indexer.Stop(); err != nil {
		log.Warn("stop indexer", zap.Error(err))
	}
	a.releaseLease(idx)
}

func (a *App) releaseLease(idx *chainIndexer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.lock.Release(ctx); err != nil && !errors.Is(err, lock.ErrLockNotHeld) {
		logger.Warn("release chain lease", zap.Int64("chain_id", idx.chainID), zap.Error(err))
	}
}

// shutdown 关闭应用
func (a *App) shutdown() {
	logger.Info("shutting down...")

	a.healthHandler.SetReady(false)
	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// 先停事件源，再关闭发布和存储
	if a.kafkaConsumer != nil {
		if err := a.kafkaConsumer.Stop(); err != nil {
			logger.Warn("stop kafka consumer", zap.Error(err))
		}
	}
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Pipeline.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	a.grpcServer.GracefulStop()

	if a.kafkaProducer != nil {
		a.kafkaProducer.Close()
	}

	for _, idx := range a.indexers {
		idx.client.Close()
	}

	if a.redis != nil {
		a.redis.Close()
	}

	if a.db != nil {
		if sqlDB, _ := a.db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
	}

	logger.Info("shutdown complete")
}

// Stop 停止应用
func (a *App) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Rollback 回滚最近一次迁移 (仅 PostgreSQL)
func Rollback(cfg *config.Config) error {
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("rollback is only supported for postgres")
	}
	db, err := openDatabase(&cfg.Database)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return migrate.NewMigrator(sqlDB, cfg.Service.Name, logger.L()).Rollback(migrations.FS, ".")
}

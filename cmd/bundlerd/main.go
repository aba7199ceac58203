// Copyright 2025 Certen Protocol
//
// bundlerd: the payment-gated bundling service. Wires configuration, the
// database, object storage, the queue broker, the pricing oracle, the x402
// payment engine, the service wallet, and the chain gateway together, then
// starts the admission HTTP surface alongside the pipeline, packer, optical
// bridge, and cleanup workers.

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/certen/bundler/pkg/admission"
	"github.com/certen/bundler/pkg/chain"
	"github.com/certen/bundler/pkg/config"
	"github.com/certen/bundler/pkg/database"
	"github.com/certen/bundler/pkg/objectstore"
	"github.com/certen/bundler/pkg/optical"
	"github.com/certen/bundler/pkg/packer"
	"github.com/certen/bundler/pkg/payment"
	"github.com/certen/bundler/pkg/pipeline"
	"github.com/certen/bundler/pkg/pricing"
	"github.com/certen/bundler/pkg/queue"
	"github.com/certen/bundler/pkg/wallet"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags)
	logger := log.New(os.Stdout, "[bundlerd] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	db, err := database.NewClient(cfg, database.WithLogger(log.New(os.Stdout, "[Database] ", log.LstdFlags)))
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.MigrateUp(ctx); err != nil {
		log.Fatalf("run migrations: %v", err)
	}
	repos := database.NewRepositories(db)

	store, err := objectstore.NewClient(ctx, &objectstore.ClientConfig{
		RawBucket:       cfg.GCSBucketRaw,
		BackupBucket:    cfg.GCSBucketBackup,
		CredentialsFile: cfg.GCSCredentials,
		Enabled:         cfg.GCSBucketRaw != "",
		Logger:          log.New(os.Stdout, "[ObjectStore] ", log.LstdFlags),
	})
	if err != nil {
		log.Fatalf("connect to object store: %v", err)
	}

	broker, err := queue.NewBroker(queue.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Logger:        log.New(os.Stdout, "[Queue] ", log.LstdFlags),
	})
	if err != nil {
		log.Fatalf("connect to queue broker: %v", err)
	}

	svcWallet, err := wallet.LoadFromFile(cfg.ServiceWalletKeyPath)
	if err != nil {
		log.Fatalf("load service wallet: %v", err)
	}

	chainGateway := chain.NewGateway(append([]string{cfg.ChainGatewayURL}, cfg.ChainGatewayURLs...))

	oracle := pricing.NewOracle(pricing.Config{
		GatewayURL: cfg.ChainGatewayURL,
		FeePercent: cfg.X402FeePct,
		Logger:     log.New(os.Stdout, "[Pricing] ", log.LstdFlags),
	})

	networksCfg, err := config.LoadNetworksConfig(cfg.NetworksConfigPath)
	if err != nil {
		log.Fatalf("load networks config: %v", err)
	}

	paymentsEngine := payment.NewEngine(payment.Config{
		Networks:       networksCfg.Networks,
		Oracle:         oracle,
		Payments:       repos.Payments,
		PublicBaseURL:  cfg.PublicBaseURL,
		FeePct:         cfg.X402FeePct,
		FraudTolerance: cfg.X402FraudTolerancePct,
		Logger:         log.New(os.Stdout, "[Payment] ", log.LstdFlags),
	})

	admissionServer := admission.NewServer(admission.Deps{
		Config:       cfg,
		DB:           db,
		Repos:        repos,
		Store:        store,
		Broker:       broker,
		Oracle:       oracle,
		Payments:     paymentsEngine,
		Wallet:       svcWallet,
		ChainGateway: chainGateway,
		DataCaches:   []string{cfg.DataDir},
		Logger:       log.New(os.Stdout, "[Admission] ", log.LstdFlags),
	})

	pipe := pipeline.New(pipeline.Config{
		Items:                   repos.Items,
		Plans:                   repos.Plans,
		Offsets:                 repos.Offsets,
		Cursors:                 repos.Cursors,
		Payments:                paymentsEngine,
		Broker:                  broker,
		Store:                   store,
		Chain:                   chainGateway,
		Wallet:                  svcWallet,
		DataDir:                 cfg.DataDir,
		ConfirmationDepth:       cfg.ConfirmationDepth,
		VerifyTimeout:           cfg.VerifyTimeout,
		PostBundleDelay:         30 * time.Second,
		DeadlineHeightIncrement: cfg.DeadlineHeightIncrement,
		FilesystemCleanupDays:   cfg.FilesystemCleanupDays,
		MinioCleanupDays:        cfg.MinioCleanupDays,
		CleanupBatchSize:        cfg.CleanupBatchSize,
		Logger:                  log.New(os.Stdout, "[Pipeline] ", log.LstdFlags),
	})
	pipe.Register(broker)

	opticalBridge := optical.New(optical.Config{
		Items:            repos.Items,
		Wallet:           svcWallet,
		PrimarySinkURL:   cfg.OpticalPrimarySinkURL,
		OptionalSinkURLs: cfg.OpticalOptionalSinkURLs,
		CanarySinkURL:    cfg.OpticalCanarySinkURL,
		CanarySampleRate: cfg.OpticalCanarySampleRate,
		LocalMode:        cfg.OpticalLocalMode,
		Logger:           log.New(os.Stdout, "[Optical] ", log.LstdFlags),
	})
	opticalBridge.Register(broker)

	bundlePacker := packer.New(packer.Config{
		Items:              repos.Items,
		Plans:              repos.Plans,
		Broker:             broker,
		MaxBundleByteCount: cfg.MaxBundleByteCount,
		MaxItemsPerBundle:  cfg.MaxItemsPerBundle,
		OverdueThreshold:   cfg.OverdueThreshold,
		FeatureClasses:     cfg.PremiumFeatureClasses,
		Logger:             log.New(os.Stdout, "[Packer] ", log.LstdFlags),
	})

	cronScheduler := queue.NewCronScheduler(broker, log.New(os.Stdout, "[QueueCron] ", log.LstdFlags))
	if err := cronScheduler.AddRepeatable(cfg.CleanupCron, queue.LabelCleanupFS, map[string]string{}); err != nil {
		log.Fatalf("register cleanup-fs schedule: %v", err)
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	broker.Start(ctx)

	planTicker := time.NewTicker(cfg.PlanBundleInterval)
	defer planTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-planTicker.C:
				if n, err := bundlePacker.RunOnce(ctx); err != nil {
					logger.Printf("plan-bundle tick failed: %v", err)
				} else if n > 0 {
					logger.Printf("plan-bundle tick created %d bundle plan(s)", n)
				}
			}
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: admissionServer.Router(),
	}

	go func() {
		logger.Printf("admission API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admission HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("admission HTTP server shutdown error: %v", err)
	}

	logger.Printf("stopped")
}

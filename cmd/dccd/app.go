package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"dccgate/internal/config"
	"dccgate/internal/infra/bloom"
	cryptoinfra "dccgate/internal/infra/crypto"
	"dccgate/internal/infra/db"
	"dccgate/internal/infra/hcert"
	httpinfra "dccgate/internal/infra/http"
	"dccgate/internal/infra/lock"
	"dccgate/internal/infra/metrics"
	"dccgate/internal/infra/policyopa"
	"dccgate/internal/infra/revmem"
	"dccgate/internal/infra/revocationclient"
	"dccgate/internal/infra/trustlistclient"
	"dccgate/internal/infra/trustmem"
	"dccgate/internal/infra/trustvault"
	"dccgate/internal/usecase"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type syncer interface {
	name() string
	sync(ctx context.Context) error
}

type trustSyncJob struct{ uc *usecase.TrustSync }

func (j trustSyncJob) name() string { return "trustlist" }

func (j trustSyncJob) sync(ctx context.Context) error {
	_, err := j.uc.Execute(ctx)
	return err
}

type revocationSyncJob struct{ uc *usecase.RevocationSync }

func (j revocationSyncJob) name() string { return "revocation" }

func (j revocationSyncJob) sync(ctx context.Context) error {
	_, err := j.uc.Execute(ctx)
	return err
}

type app struct {
	server *httpinfra.Server
	jobs   []syncer
	close  []func() error
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.shutdown(logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if len(a.jobs) > 0 {
		g.Go(func() error {
			syncLoop(gctx, cfg.SyncInterval(), a.jobs, logger)
			return nil
		})
	}
	return g.Wait()
}

func build(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{}
	collector := metrics.New()

	store, err := db.NewStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.close = append(a.close, store.Close)

	var revocations usecase.RevocationStore = revmem.New()
	var database httpinfra.Pinger
	if store.Enabled() {
		revocations = db.NewRevocationRepository(store.DB)
		database = store
	}

	var locker usecase.KeyedLocker = lock.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		redisLocker, err := lock.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LockTTL())
		if err != nil {
			return nil, fmt.Errorf("init redis locker: %w", err)
		}
		locker = redisLocker
		a.close = append(a.close, redisLocker.Close)
	}

	decoder, err := hcert.NewDecoder(cfg.StrictSchema, logger)
	if err != nil {
		return nil, err
	}
	cryptoSvc := &cryptoinfra.Service{}
	keys := trustmem.New()

	trustSync := &usecase.TrustSync{
		Keys:    keys,
		Parser:  cryptoSvc,
		Metrics: collector,
		Logger:  logger,
	}
	if cfg.TrustVaultPath != "" {
		vault, err := trustvault.New(cfg.TrustVaultPath, cfg.TrustVaultSecret)
		if err != nil {
			return nil, fmt.Errorf("init trust vault: %w", err)
		}
		trustSync.Vault = vault
		restored, err := trustSync.Restore(ctx)
		if err != nil {
			return nil, fmt.Errorf("restore trust list: %w", err)
		}
		logger.WithField("keys", restored).Info("trust list restored")
	}
	if cfg.TrustListBaseURL != "" {
		source, err := trustlistclient.NewFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		trustSync.Source = source
		a.jobs = append(a.jobs, trustSyncJob{uc: trustSync})
	}

	var revocationSync *usecase.RevocationSync
	if cfg.RevocationBaseURL != "" {
		source, err := revocationclient.NewFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		revocationSync = &usecase.RevocationSync{
			Source:      source,
			Store:       revocations,
			Locker:      locker,
			Concurrency: cfg.RevocationSyncConcurrency,
			Metrics:     collector,
			Logger:      logger,
		}
		a.jobs = append(a.jobs, revocationSyncJob{uc: revocationSync})
	}

	valueSets, err := loadValueSets(cfg.RulesValueSets)
	if err != nil {
		return nil, err
	}
	verify := &usecase.VerifyCertificate{
		Decoder:  decoder,
		Keys:     keys,
		Verifier: cryptoSvc,
		Revocation: &usecase.RevocationLookup{
			Store:   revocations,
			Mapper:  usecase.NibbleMapper{Width: cfg.RevocationNibbles},
			Decode:  bloom.DecodeSlice,
			Locker:  locker,
			Metrics: collector,
			Logger:  logger,
		},
		Metrics:            collector,
		Logger:             logger,
		DefaultCountryCode: cfg.CountryCode,
		ValueSets:          valueSets,
	}
	if cfg.RulesBundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(ctx, cfg.RulesBundlePath, cfg.RulesBundleID)
		if err != nil {
			return nil, fmt.Errorf("load rules bundle: %w", err)
		}
		logger.WithFields(logrus.Fields{"bundle": engine.BundleID(), "hash": engine.BundleHash()}).Info("rules loaded")
		verify.Rules = engine
	}

	deps := httpinfra.ServerDeps{
		Verify:      verify,
		Revocations: revocations,
		Database:    database,
		Metrics:     collector.Handler(),
		Logger:      logger,
		AdminAPIKey: cfg.AdminAPIKey,
	}
	if trustSync.Source != nil {
		deps.TrustSync = trustSync
	}
	if revocationSync != nil {
		deps.RevocationSync = revocationSync
	}
	a.server = httpinfra.NewServer(cfg, deps)
	return a, nil
}

func (a *app) shutdown(logger logrus.FieldLogger) {
	for i := len(a.close) - 1; i >= 0; i-- {
		if err := a.close[i](); err != nil {
			logger.WithError(err).Warn("close failed")
		}
	}
}

// syncLoop runs every job once immediately and then on each tick until ctx
// is done.
func syncLoop(ctx context.Context, interval time.Duration, jobs []syncer, logger logrus.FieldLogger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, job := range jobs {
			if ctx.Err() != nil {
				return
			}
			start := time.Now()
			log := logger.WithField("job", job.name())
			if err := job.sync(ctx); err != nil {
				log.WithError(err).Warn("sync failed")
				continue
			}
			log.WithField("elapsed", time.Since(start).String()).Info("sync completed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// loadValueSets reads value sets from inline JSON or a file path.
func loadValueSets(source string) (map[string][]string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	data := []byte(source)
	if !strings.HasPrefix(source, "{") {
		raw, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("read value sets: %w", err)
		}
		data = raw
	}
	var out map[string][]string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode value sets: %w", err)
	}
	return out, nil
}

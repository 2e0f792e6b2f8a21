package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"radiopipe/internal/casa"
	"radiopipe/internal/domain"
	"radiopipe/internal/executor"
	"radiopipe/internal/ledger"
	"radiopipe/internal/monitor"
	"radiopipe/internal/pipeline"
	"radiopipe/internal/products"
	"radiopipe/internal/safeio"
	"radiopipe/internal/task"
)

// environment holds everything a run needs, assembled once per command.
type environment struct {
	work    *safeio.WorkDir
	runtime *task.Runtime
	ledger  ledger.Store
	metrics *executor.Metrics
	reg     *prometheus.Registry
	monitor *monitor.Server
	sink    executor.Sink
}

// buildEnvironment wires the gateway, caches, stores and monitor for the
// given run context.
func (a *app) buildEnvironment(ctx context.Context, c *pipeline.Context, procName string) (*environment, error) {
	work, err := safeio.NewWorkDir(a.workdir)
	if err != nil {
		return nil, fmt.Errorf("open working directory: %w", err)
	}

	if a.shimPath == "" {
		return nil, fmt.Errorf("no CASA shim configured (--casa-shim or RADIOPIPE_CASA_SHIM)")
	}
	replyCache, err := casa.NewReplyCache(casa.ReplyCacheConfig{
		Root: filepath.Join(work.Root(), ".radiopipe", "replycache"),
		TTL:  24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open reply cache: %w", err)
	}
	gateway, err := casa.NewExecGateway(casa.ExecConfig{
		ShimPath:   a.shimPath,
		WorkDir:    work.Root(),
		Logger:     a.log,
		ReplyCache: replyCache,
	})
	if err != nil {
		return nil, err
	}

	metadata, err := domain.NewMetadataCache(256)
	if err != nil {
		return nil, err
	}

	var store products.Store
	if cfg := products.S3ConfigFromEnv(); cfg.Endpoint != "" {
		s3, err := products.NewS3Store(cfg)
		if err != nil {
			return nil, fmt.Errorf("configure product store: %w", err)
		}
		store = s3
	}

	led, err := ledger.Open(ctx, a.ledgerPath())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := executor.NewMetrics(reg)

	env := &environment{
		work:    work,
		ledger:  led,
		metrics: metrics,
		reg:     reg,
		runtime: &task.Runtime{
			Context:      c,
			Gateway:      gateway,
			Work:         work,
			Log:          a.log,
			Metadata:     metadata,
			Products:     store,
			Tier0Workers: a.tier0Workers,
		},
	}

	sinks := executor.MultiSink{}
	if a.monitorAddr != "" {
		env.monitor = monitor.NewServer(monitor.Config{
			Ledger:   led,
			Gatherer: reg,
			Log:      a.log,
		})
		sinks = append(sinks, env.monitor.Hub())
		go func() {
			if err := env.monitor.Start(a.monitorAddr); err != nil {
				a.log.Error("monitor server stopped", zap.Error(err))
			}
		}()
	}
	sinks = append(sinks, &ledger.Recorder{
		Store: led,
		Log:   a.log,
		Template: ledger.Run{
			Project:   c.ProjectCode,
			Procedure: procName,
		},
	})
	env.sink = sinks
	return env, nil
}

func (env *environment) close(a *app) {
	if env.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := env.monitor.Shutdown(ctx); err != nil {
			a.log.Warn("monitor shutdown", zap.Error(err))
		}
	}
	if err := env.ledger.Close(); err != nil {
		a.log.Warn("ledger close", zap.Error(err))
	}
}

// ensureContextDir creates <workdir>/<name> for a fresh run.
func (a *app) ensureContextDir(name string) error {
	return os.MkdirAll(filepath.Join(a.workdir, name), 0o755)
}

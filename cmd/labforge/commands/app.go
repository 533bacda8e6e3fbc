package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/techlabs/labforge/pkg/config"
	"github.com/techlabs/labforge/pkg/jobs"
	"github.com/techlabs/labforge/pkg/notify"
	"github.com/techlabs/labforge/pkg/orchestrator"
	"github.com/techlabs/labforge/pkg/provisioner"
	"github.com/techlabs/labforge/pkg/stores"
	"github.com/techlabs/labforge/pkg/telemetry"
)

// app wires the configured components together for one command invocation.
type app struct {
	cfg *config.AppConfig
	tel *telemetry.Telemetry

	store  *stores.SQLiteStore
	driver *provisioner.Driver
	mailer *notify.Mailer
	queue  *jobs.Queue

	service     *orchestrator.Service
	lifecycle   *orchestrator.LifecycleDriver
	coordinator *orchestrator.Coordinator
	reconciler  *orchestrator.Reconciler
}

// newApp loads the configuration and constructs the full component graph.
// The caller must invoke close when done.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceVersion = buildVersion
	telCfg.Logging.Level = cfg.Logging.Level
	telCfg.Logging.Format = cfg.Logging.Format
	telCfg.Logging.Output = cfg.Logging.Output
	if verbose {
		telCfg.Logging.Level = "debug"
	}
	if jsonOutput {
		telCfg.Logging.Format = "json"
	}
	telCfg.Metrics.Enabled = cfg.Metrics.Enabled
	telCfg.Metrics.ListenAddress = cfg.Metrics.ListenAddress
	telCfg.Tracing.Enabled = cfg.Tracing.Enabled
	if cfg.Tracing.Exporter != "" {
		telCfg.Tracing.Exporter = cfg.Tracing.Exporter
	}
	telCfg.Tracing.Endpoint = cfg.Tracing.Endpoint

	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	driver, err := provisioner.NewDriver(provisioner.Config{
		BinaryPath:    cfg.Terraform.BinaryPath,
		WorkspaceRoot: cfg.Terraform.WorkspaceRoot,
		Timeout:       cfg.Terraform.Timeout(),
		Credentials:   cfg.OVH.Env(),
	}, tel.Logger, tel.Metrics)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	mailer := notify.NewMailer(notify.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, tel.Logger)

	queue := jobs.NewQueue(cfg.Jobs.Workers, cfg.Jobs.BufferSize, tel.Logger, tel.Metrics)

	lifecycle := orchestrator.NewLifecycleDriver(store, driver, tel.Events, mailer, tel.Logger, tel.Metrics)
	lifecycle.SetLoginPrefix(cfg.LoginPrefix)

	coordinator := orchestrator.NewCoordinator(store, lifecycle, tel.Events, tel.Logger)

	reconciler := orchestrator.NewReconciler(store, driver, lifecycle, queue, tel.Events, mailer, tel.Logger, tel.Metrics)
	reconciler.SetRetention(cfg.Retention())
	reconciler.SetStuckThreshold(cfg.StuckThreshold())

	service := orchestrator.NewService(store, tel.Events, tel.Logger)
	service.SetRetention(cfg.Retention())

	a := &app{
		cfg:         cfg,
		tel:         tel,
		store:       store,
		driver:      driver,
		mailer:      mailer,
		queue:       queue,
		service:     service,
		lifecycle:   lifecycle,
		coordinator: coordinator,
		reconciler:  reconciler,
	}
	a.registerJobs()
	return a, nil
}

// jobSweepWorkspaces reconciles workspace state after filesystem changes.
const jobSweepWorkspaces = "sweep_workspaces"

// registerJobs binds the queue's job names to their handlers.
func (a *app) registerJobs() {
	a.queue.Register(orchestrator.JobDeployAttendee, func(ctx context.Context, job *jobs.Job) error {
		return a.lifecycle.DeployAttendee(ctx, job.Arg(0))
	})
	a.queue.Register(orchestrator.JobDestroyAttendee, func(ctx context.Context, job *jobs.Job) error {
		return a.lifecycle.DestroyAttendee(ctx, job.Arg(0))
	})
	a.queue.Register(orchestrator.JobDeployWorkshop, func(ctx context.Context, job *jobs.Job) error {
		progress := &jobs.LogProgress{Logger: a.tel.Logger.WithWorkshopID(job.Arg(0))}
		_, err := a.coordinator.DeploySequential(ctx, job.Arg(0), progress)
		return err
	})
	a.queue.Register(jobSweepWorkspaces, func(ctx context.Context, _ *jobs.Job) error {
		if _, err := a.reconciler.SweepUnhealthyAttendees(ctx); err != nil {
			return err
		}
		_, err := a.reconciler.SweepOrphanWorkspaces(ctx)
		return err
	})
}

// drainQueue waits until all queued and in-flight jobs have finished, or the
// context is canceled. One-shot commands use it so enqueued work is not lost
// on exit.
func (a *app) drainQueue(ctx context.Context) {
	for a.queue.Pending() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// close releases the app's resources in reverse construction order.
func (a *app) close(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		a.tel.Logger.WithError(err).Warn("failed to close store")
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.tel.Logger.WithError(err).Warn("telemetry shutdown failed")
	}
}

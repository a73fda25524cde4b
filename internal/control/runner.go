package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/popcore/populate/internal/core/config"
	"github.com/popcore/populate/internal/core/failure"
	"github.com/popcore/populate/internal/core/progress"
	"github.com/popcore/populate/internal/health"
	redisclient "github.com/popcore/populate/internal/infra/redis"
	"github.com/popcore/populate/internal/infra/source"
	"github.com/popcore/populate/internal/infra/storage/memory"
	"github.com/popcore/populate/internal/infra/storage/postgres"
	"github.com/popcore/populate/internal/populate"
	"github.com/popcore/populate/internal/resilience/breaker"
	"github.com/popcore/populate/internal/resilience/ratelimit"
)

// taskLockTTL bounds how long a crashed holder can block a task.
const taskLockTTL = 10 * time.Minute

// Config holds the application configuration.
type Config struct {
	Port       int
	StateDir   string
	Durability progress.Durability
	Source     config.SourceConfig
	Breaker    breaker.Config
	RateLimit  ratelimit.Config
	Retry      failure.RetryPolicy
	Redis      redisclient.Config
	Database   postgres.Config
	Tasks      []config.TaskConfig
}

// RunOptions selects what a Run invocation does.
type RunOptions struct {
	Task   string // run only the named task; empty runs all
	DryRun bool
	Reset  bool
}

// Runner wires storage, locking, resilience primitives and per-task
// orchestrators, and owns their lifecycle.
type Runner struct {
	cfg          Config
	registry     *breaker.Registry
	limiter      *ratelimit.AdaptiveLimiter
	fetcher      *source.HTTPFetcher
	sink         populate.Sink
	memSink      *memory.Sink
	db           *postgres.DB
	runRepo      *postgres.RunRepo
	redisClient  *redisclient.Client
	healthServer *health.Server
	log          *slog.Logger

	mu        sync.RWMutex
	stores    map[string]*progress.Store
	summaries []*populate.Summary
}

// NewRunner creates a Runner with all dependencies initialized.
func NewRunner(cfg Config) (*Runner, error) {
	log := slog.Default()

	r := &Runner{
		cfg:      cfg,
		registry: breaker.NewRegistry(),
		limiter:  ratelimit.New(cfg.RateLimit),
		fetcher:  source.NewHTTPFetcher(cfg.Source.Name, cfg.Source.BaseURL, cfg.Source.APIKey, cfg.Source.Timeout),
		log:      log,
		stores:   make(map[string]*progress.Store),
	}

	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		r.db = db
		r.sink = postgres.NewSink(db)
		r.runRepo = postgres.NewRunRepo(db)
		log.Info("Using PostgreSQL sink")
	} else {
		r.memSink = memory.NewSink()
		r.sink = r.memSink
		log.Info("Using in-memory sink (no database configured)")
	}

	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		r.redisClient = client
	}

	r.healthServer = health.NewServer(cfg.Port, r.statusSnapshot, r.healthChecks())
	return r, nil
}

// Start launches the health/metrics server.
func (r *Runner) Start(ctx context.Context) error {
	go func() {
		if err := r.healthServer.Start(); err != nil && ctx.Err() == nil {
			r.log.Error("Health server stopped", "error", err)
		}
	}()
	r.log.Info("Health server listening", "port", r.cfg.Port)
	return nil
}

// Run executes the configured tasks sequentially and returns their
// summaries. A run-level failure on one task stops the invocation; per-unit
// failures are reported inside the summaries.
func (r *Runner) Run(ctx context.Context, opts RunOptions) ([]*populate.Summary, error) {
	var summaries []*populate.Summary

	for _, task := range r.cfg.Tasks {
		if opts.Task != "" && opts.Task != task.Name {
			continue
		}

		summary, err := r.runTask(ctx, task, opts)
		if summary != nil {
			summaries = append(summaries, summary)
			r.mu.Lock()
			r.summaries = append(r.summaries, summary)
			r.mu.Unlock()
		}
		if err != nil {
			return summaries, fmt.Errorf("task %s: %w", task.Name, err)
		}
	}

	if opts.Task != "" && len(summaries) == 0 {
		return nil, fmt.Errorf("unknown task %q", opts.Task)
	}
	return summaries, nil
}

func (r *Runner) runTask(ctx context.Context, task config.TaskConfig, opts RunOptions) (*populate.Summary, error) {
	if r.redisClient != nil {
		acquired, err := r.redisClient.AcquireTaskLock(ctx, task.Name, taskLockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire task lock: %w", err)
		}
		if !acquired {
			return nil, fmt.Errorf("task %s is already running elsewhere", task.Name)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.redisClient.ReleaseTaskLock(releaseCtx, task.Name); err != nil {
				r.log.Warn("Failed to release task lock", "task", task.Name, "error", err)
			}
		}()

		refreshCtx, stopRefresh := context.WithCancel(ctx)
		defer stopRefresh()
		go r.refreshLock(refreshCtx, task.Name)
	}

	store, err := r.progressStore(task.Name)
	if err != nil {
		return nil, err
	}

	units := make([]populate.Unit, len(task.Units))
	for i, u := range task.Units {
		units[i] = populate.Unit{Key: u.Key, Params: u.Params}
	}

	orch, err := populate.NewOrchestrator(populate.Config{
		Task:            task.Name,
		Table:           task.Table,
		KeyColumns:      task.KeyColumns,
		Schema:          task.Schema,
		MaxAttempts:     task.MaxAttempts,
		CheckpointEvery: task.CheckpointEvery,
		DryRun:          opts.DryRun,
		Reset:           opts.Reset,
		Retry:           r.cfg.Retry,
		Enumerator:      populate.StaticEnumerator(units),
		Fetcher:         r.fetcher,
		Transformer:     populate.IdentityTransformer{},
		Sink:            r.sink,
		Breaker:         r.registry.GetOrCreate(r.cfg.Source.Name, r.cfg.Breaker),
		Limiter:         r.limiter,
		Progress:        store,
		Logger:          r.log,
	})
	if err != nil {
		return nil, err
	}

	summary, err := orch.Run(ctx)
	if summary != nil && r.runRepo != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if saveErr := r.runRepo.Save(saveCtx, summary); saveErr != nil {
			r.log.Warn("Failed to persist run summary", "task", task.Name, "error", saveErr)
		}
	}
	return summary, err
}

func (r *Runner) refreshLock(ctx context.Context, task string) {
	ticker := time.NewTicker(taskLockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.redisClient.RefreshTaskLock(ctx, task, taskLockTTL); err != nil {
				r.log.Warn("Failed to refresh task lock", "task", task, "error", err)
			}
		}
	}
}

func (r *Runner) progressStore(task string) (*progress.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if store, ok := r.stores[task]; ok {
		return store, nil
	}
	store, err := progress.Load(r.cfg.StateDir, task, progress.Options{
		Durability: r.cfg.Durability,
		Logger:     r.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open progress store: %w", err)
	}
	r.stores[task] = store
	return store, nil
}

// statusSnapshot feeds the health server's /status endpoint.
func (r *Runner) statusSnapshot(ctx context.Context) any {
	r.mu.RLock()
	tasks := make(map[string]progress.Summary, len(r.stores))
	for name, store := range r.stores {
		rec := store.Record()
		tasks[name] = rec.Summarize()
	}
	runs := append([]*populate.Summary(nil), r.summaries...)
	r.mu.RUnlock()

	out := map[string]any{
		"breakers": r.registry.Snapshot(),
		"rate":     r.limiter.Rate(),
		"tasks":    tasks,
		"runs":     runs,
	}

	if r.runRepo != nil {
		history, err := r.runRepo.Recent(ctx, 20)
		if err != nil {
			r.log.Warn("Failed to load run history", "error", err)
		} else {
			out["history"] = history
		}
	}
	return out
}

func (r *Runner) healthChecks() map[string]health.CheckFunc {
	checks := make(map[string]health.CheckFunc)
	if r.db != nil {
		checks["database"] = r.db.Health
	}
	return checks
}

// Stop shuts down the health server and closes connections.
func (r *Runner) Stop(ctx context.Context) error {
	if err := r.healthServer.Stop(ctx); err != nil {
		return err
	}
	if r.redisClient != nil {
		if err := r.redisClient.Close(); err != nil {
			return err
		}
	}
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

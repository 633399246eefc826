package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"

	"github.com/desertthunder/ytsync/internal/metrics"
	"github.com/desertthunder/ytsync/internal/quota"
	"github.com/desertthunder/ytsync/internal/repositories"
	"github.com/desertthunder/ytsync/internal/resilience"
	"github.com/desertthunder/ytsync/internal/services"
	"github.com/desertthunder/ytsync/internal/shared"
	"github.com/desertthunder/ytsync/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database, remote client and sync engine are created on first use so commands that
// only read local state never need credentials.
type Runner struct {
	config     *shared.Config
	configPath string
	db         *sql.DB
	ownsDB     bool
	client     services.CollectionClient
	youtube    *services.YouTubeService
	ledger     *quota.Ledger
	breaker    *resilience.CircuitBreaker
	engine     *tasks.SyncEngine
	metrics    *metrics.Metrics
	clock      func() time.Time
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	DB         *sql.DB                   // opened from the config when nil
	Client     services.CollectionClient // built from the configured credentials when nil
	Metrics    *metrics.Metrics
	Clock      func() time.Time
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = defaultConfigPath
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		db:         opts.DB,
		client:     opts.Client,
		metrics:    opts.Metrics,
		clock:      opts.Clock,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, collectionCommand, syncCommand, quotaCommand, auditCommand, exportCommand, serveCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger used by the runner and everything it builds afterwards.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// Before loads the configuration named by --config, keeping the defaults when the file does not exist.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	path := cmd.String("config")
	if path == "" {
		return ctx, nil
	}
	r.configPath = path

	if _, err := os.Stat(path); err != nil {
		r.logger.Debug("config file not found, using defaults", "path", path)
		return ctx, nil
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		return ctx, err
	}
	r.config = config
	return ctx, nil
}

// Close releases the database when the runner opened it.
func (r *Runner) Close(ctx context.Context, cmd *cli.Command) error {
	if r.db != nil && r.ownsDB {
		err := r.db.Close()
		r.db = nil
		return err
	}
	return nil
}

// database opens the configured database and brings its schema up to date.
func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	r.db = db
	r.ownsDB = true
	return db, nil
}

// youtubeService builds the YouTube client from the configured credentials.
// Refreshed tokens are written back to the config file.
func (r *Runner) youtubeService(ctx context.Context) (*services.YouTubeService, error) {
	if r.youtube != nil {
		return r.youtube, nil
	}

	svc, err := services.NewYouTubeService(ctx, services.YouTubeOptions{
		Credentials: r.config.Credentials.YouTube,
		BaseURL:     r.config.Remote.BaseURL,
		Timeout:     r.config.Remote.Timeout.Duration,
		PageSize:    r.config.Quota.PageSize,
		Logger:      r.logger,
		OnToken:     r.saveToken,
	})
	if err != nil {
		return nil, err
	}
	r.youtube = svc
	return svc, nil
}

func (r *Runner) collectionClient(ctx context.Context) (services.CollectionClient, error) {
	if r.client != nil {
		return r.client, nil
	}
	svc, err := r.youtubeService(ctx)
	if err != nil {
		return nil, err
	}
	r.client = svc
	return svc, nil
}

func (r *Runner) saveToken(token *oauth2.Token) {
	if err := r.config.Credentials.YouTube.Update(token); err != nil {
		r.logger.Warn("failed to store refreshed token", "error", err)
		return
	}
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		r.logger.Warn("failed to save refreshed token", "path", r.configPath, "error", err)
		return
	}
	r.logger.Debug("refreshed token saved", "path", r.configPath)
}

// quotaLedger returns the daily budget ledger backed by the database.
func (r *Runner) quotaLedger() (*quota.Ledger, error) {
	if r.ledger != nil {
		return r.ledger, nil
	}

	db, err := r.database()
	if err != nil {
		return nil, err
	}

	ledger, err := quota.NewLedger(
		repositories.NewQuotaRepository(db),
		quota.ConfigFrom(r.config.Quota),
		quota.WithClock(r.clock),
		quota.WithLogger(r.logger),
		quota.WithObserver(r.metrics),
	)
	if err != nil {
		return nil, err
	}
	ledger.OnWarning(r.metrics.QuotaLow)
	r.ledger = ledger
	return ledger, nil
}

func (r *Runner) circuitBreaker() *resilience.CircuitBreaker {
	if r.breaker == nil {
		opts := append(resilience.BreakerOptionsFrom(r.config.Breaker), resilience.WithStateChange(r.stateChanged))
		r.breaker = resilience.NewCircuitBreaker("youtube", opts...)
	}
	return r.breaker
}

func (r *Runner) stateChanged(name string, from, to resilience.State) {
	r.logger.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
	r.metrics.StateChanged(name, from, to)
}

// syncEngine wires the remote client, quota ledger, breaker and retrier into a SyncEngine.
func (r *Runner) syncEngine(ctx context.Context) (*tasks.SyncEngine, error) {
	if r.engine != nil {
		return r.engine, nil
	}

	db, err := r.database()
	if err != nil {
		return nil, err
	}
	client, err := r.collectionClient(ctx)
	if err != nil {
		return nil, err
	}
	ledger, err := r.quotaLedger()
	if err != nil {
		return nil, err
	}

	retrier, err := resilience.NewRetrier(
		resilience.ConfigFrom(r.config.Retry),
		resilience.WithRefresher(client),
		resilience.WithRetryLogger(r.logger),
		resilience.WithRetryObserver(r.metrics),
	)
	if err != nil {
		return nil, err
	}

	guard := resilience.NewGuard(r.circuitBreaker(), retrier,
		resilience.WithQuota(ledger),
		resilience.WithGuardObserver(r.metrics),
		resilience.WithGuardLogger(r.logger),
	)

	engine, err := tasks.NewSyncEngine(tasks.EngineOpts{
		DB:       db,
		Client:   client,
		Guard:    guard,
		Batch:    r.config.Sync.BatchSize,
		Recheck:  r.config.Sync.UnavailableRecheck.Duration,
		Clock:    r.clock,
		Logger:   r.logger,
		Observer: r.metrics,
	})
	if err != nil {
		return nil, err
	}
	r.engine = engine
	return engine, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

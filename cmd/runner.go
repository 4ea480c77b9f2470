package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/pihome/internal/agent"
	"github.com/desertthunder/pihome/internal/events"
	"github.com/desertthunder/pihome/internal/repositories"
	"github.com/desertthunder/pihome/internal/services"
	"github.com/desertthunder/pihome/internal/shared"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Backends (database, Mongo, Redis, NATS) are opened lazily by [Runner.connect] so that commands
// like `setup init` work before anything is configured.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	input      io.Reader

	db        *sql.DB
	events    events.Subscriber
	stores    *services.Stores
	services  *services.Services
	provider  agent.LLMProvider
	players   agent.PlayerResolver
	agent     *agent.Agent
	chatAgent *agent.ChatAgent
	closers   []func() error
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Services, Stores, Provider and Players are normally left nil and built from the config;
// tests set them to run commands against an in-memory stack.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Input      io.Reader
	Stores     *services.Stores
	Services   *services.Services
	Provider   agent.LLMProvider
	Players    agent.PlayerResolver
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		input:      opts.Input,
		stores:     opts.Stores,
		services:   opts.Services,
		provider:   opts.Provider,
		players:    opts.Players,
	}
}

func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:     "pihome",
		Usage:    "Manage families, speakers and the chat assistant for a Raspberry Pi home audio system",
		Version:  version,
		Writer:   r.output,
		Flags:    globalFlags(),
		Before:   r.loadConfig,
		After:    r.close,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, userCommand, familyCommand, deviceCommand, groupCommand, chatCommand,
		notesCommand, spotifyCommand, modelsCommand, serveCommand, mcpCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig reads the --config file (falling back to the runner's config or the defaults), then
// overlays the --env dotenv file and the process environment.
func (r *Runner) loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("debug") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	path := cmd.String("config")
	if _, err := os.Stat(path); err == nil {
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config = config
		r.configPath = path
	} else if r.config == nil {
		r.logger.Debug("config file not found, using defaults", "path", path)
		r.config = shared.DefaultConfig()
		r.configPath = path
	}

	if err := r.config.ApplyEnv(cmd.String("env")); err != nil {
		return ctx, err
	}
	return ctx, nil
}

// openDatabase opens the configured SQLite database.
func (r *Runner) openDatabase() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	r.db = db
	r.closers = append(r.closers, db.Close)
	return db, nil
}

// connect wires the services and the agent from the config unless they were injected.
func (r *Runner) connect(ctx context.Context) error {
	if r.services == nil {
		if err := r.connectServices(ctx); err != nil {
			return err
		}
	}
	if r.agent == nil {
		if err := r.connectAgent(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) connectServices(ctx context.Context) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	stores := services.NewSQLiteStores(db)

	if url := r.config.Mongo.URL; url != "" {
		client, err := repositories.ConnectMongo(ctx, url)
		if err != nil {
			return err
		}
		r.closers = append(r.closers, func() error { return client.Disconnect(context.Background()) })
		stores.WithMongo(client.Database(r.config.Mongo.Database))
		r.logger.Debug("chats and notes stored in mongo", "database", r.config.Mongo.Database)
	}

	publisher, err := r.publisher()
	if err != nil {
		return err
	}

	r.stores = stores
	r.services = services.New(stores, publisher, r.spotifyFactory(), r.logger)
	return nil
}

// publisher always publishes to an in-process bus. With NATS configured events also go to NATS,
// and subscribers read from NATS so they see other processes' events too.
func (r *Runner) publisher() (events.Publisher, error) {
	bus := events.NewBus(r.logger, 64)
	r.closers = append(r.closers, func() error {
		bus.Close()
		return nil
	})
	r.events = bus

	url := r.config.NATS.URL
	if url == "" {
		return bus, nil
	}

	conn, err := events.ConnectNATS(url, r.logger)
	if err != nil {
		return nil, err
	}
	nats := events.NewNATSPublisher(conn, r.logger)
	r.closers = append(r.closers, nats.Close)
	r.events = events.NewNATSSubscriber(conn, 64, r.logger)
	return events.Fanout(bus, nats), nil
}

// spotifyFactory returns nil when the Spotify app credentials are not configured.
func (r *Runner) spotifyFactory() services.SpotifyFactory {
	creds := r.config.Credentials.Spotify
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil
	}
	return func() (*services.SpotifyService, error) {
		return services.NewSpotifyServiceFromConfig(creds)
	}
}

func (r *Runner) connectAgent(ctx context.Context) error {
	opts := agent.Options{MaxSteps: r.config.Agent.MaxSteps, Logger: r.logger}

	if url := r.config.Redis.URL; url != "" {
		client, err := agent.ConnectRedis(ctx, url)
		if err != nil {
			return err
		}
		r.closers = append(r.closers, client.Close)
		opts.Checkpointer = agent.NewRedisSaver(client, r.config.Redis.CheckpointTTL.Duration)
		if r.config.Agent.CacheResponses {
			opts.Cache = agent.NewRedisCache(client, r.config.Redis.CacheTTL.Duration)
		}
	} else if r.config.Agent.CacheResponses {
		opts.Cache = agent.NewMemoryCache(r.config.Redis.CacheTTL.Duration)
	}

	if r.provider == nil {
		r.provider = agent.NewOpenAIProvider(r.config.Credentials.LLM, nil)
	}
	if r.players == nil {
		r.players = agent.ConnectionPlayers{Connections: r.services.SpotifyConnections}
	}

	r.agent = agent.New(r.provider, r.players, r.services.Notes, opts)
	r.chatAgent = agent.NewChatAgent(r.agent, r.services.Chats, r.services.Families, r.logger)
	return nil
}

// withServices wraps an action so that it runs after [Runner.connect].
func (r *Runner) withServices(action cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if err := r.connect(ctx); err != nil {
			return err
		}
		return action(ctx, cmd)
	}
}

// close releases backends in reverse order of opening.
func (r *Runner) close(context.Context, *cli.Command) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	r.db = nil
	return errors.Join(errs...)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

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

// emit writes data as pretty JSON when --json is set and calls plain otherwise.
func (r *Runner) emit(cmd *cli.Command, data any, plain func() error) error {
	if cmd.Bool("json") {
		return r.writeJSON(data, true)
	}
	return plain()
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chirpwatch/relay/internal/checkpoint"
	"chirpwatch/relay/internal/config"
	"chirpwatch/relay/internal/fetch"
	"chirpwatch/relay/internal/poller"
	"chirpwatch/relay/internal/webhook"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

const defaultConfigPath = "./relay.yaml"

func usage() {
	fmt.Println("Usage: relay [command] [options]")
	fmt.Println("Commands: start, once, state")
	fmt.Println("\nFor command-specific options, use: relay [command] -h")
}

func main() {
	// A .env next to the binary feeds the RELAY_* variables below.
	godotenv.Load()

	startCmd := flag.NewFlagSet("start", flag.ExitOnError)
	onceCmd := flag.NewFlagSet("once", flag.ExitOnError)
	stateCmd := flag.NewFlagSet("state", flag.ExitOnError)

	var reset bool
	stateCmd.BoolVar(&reset, "reset", false, "Clear the checkpoint store instead of printing it")

	for _, cmd := range []*flag.FlagSet{startCmd, onceCmd, stateCmd} {
		cmd.String("config", config.GetEnvString("RELAY_CONFIG", defaultConfigPath),
			"Path to the YAML config file (env: RELAY_CONFIG)")
		cmd.String("db", "", "Path to the sqlite checkpoint file (env: RELAY_DB_PATH)")
		cmd.String("log-level", "", "Log level: debug, info, warn, error (env: RELAY_LOG_LEVEL)")
	}
	for _, cmd := range []*flag.FlagSet{startCmd, onceCmd} {
		cmd.Duration("delay", 0, "Base delay between poll cycles (env: RELAY_DELAY)")
		cmd.Duration("jitter", 0, "Maximum random extra delay per cycle (env: RELAY_JITTER)")
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "start":
		startCmd.Parse(os.Args[2:])

		var cfg *config.Config
		cfg, err = buildConfig(startCmd)
		if err == nil {
			err = runStart(cfg)
		}

	case "once":
		onceCmd.Parse(os.Args[2:])

		var cfg *config.Config
		cfg, err = buildConfig(onceCmd)
		if err == nil {
			err = runOnce(cfg)
		}

	case "state":
		stateCmd.Parse(os.Args[2:])

		var cfg *config.Config
		cfg, err = buildConfig(stateCmd)
		if err == nil {
			err = runState(cfg, reset)
		}

	case "-h", "--help", "help":
		usage()
		os.Exit(0)

	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

// buildConfig assembles the configuration in precedence order: defaults, then
// config file, then environment, then flags.
func buildConfig(cmd *flag.FlagSet) (*config.Config, error) {
	cfg := config.DefaultConfig()

	configPath := cmd.Lookup("config").Value.String()
	explicit := os.Getenv("RELAY_CONFIG") != ""
	cmd.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	if err := config.LoadFile(configPath, explicit, cfg); err != nil {
		return nil, err
	}

	config.ApplyEnv(cfg)

	var flagErr error
	cmd.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DBPath = f.Value.String()
		case "log-level":
			level, err := zerolog.ParseLevel(f.Value.String())
			if err != nil {
				flagErr = fmt.Errorf("invalid log level %q", f.Value.String())
				return
			}
			cfg.LogLevel = level
		case "delay":
			cfg.Delay = f.Value.(flag.Getter).Get().(time.Duration)
		case "jitter":
			cfg.Jitter = f.Value.(flag.Getter).Get().(time.Duration)
		}
	})
	if flagErr != nil {
		return nil, flagErr
	}

	zerolog.SetGlobalLevel(cfg.LogLevel)
	return cfg, nil
}

// newPoller wires the pipeline for the configured account: store, fetcher,
// formatter and delivery client.
func newPoller(cfg *config.Config) (*poller.Poller, *checkpoint.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := checkpoint.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	var fetcher fetch.Fetcher
	switch cfg.Mode {
	case config.ModeAPI:
		tokens := fetch.NewGuestTokens("", cfg.UserAgent)
		fetcher = fetch.NewAPIFetcher("", cfg.BearerToken, cfg.UserAgent, tokens)
	default:
		fetcher = fetch.NewRSSFetcher(cfg.Instance, cfg.HealthURL, cfg.UserAgent)
	}

	formatter := webhook.NewFormatter(cfg.Account, cfg.AvatarURL, cfg.Instance, cfg.PingRoles)
	client := webhook.NewClient(cfg.WebhookURL)

	p, err := poller.New(store, fetcher, formatter, client, cfg.Account, cfg.Delay, cfg.Jitter)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return p, store, nil
}

// runStart runs the poll loop until an interrupt arrives.
func runStart(cfg *config.Config) error {
	p, store, err := newPoller(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("account", cfg.Account).
		Str("mode", cfg.Mode).
		Dur("delay", cfg.Delay).
		Dur("jitter", cfg.Jitter).
		Msg("Starting poll loop")

	return p.Run(ctx)
}

// runOnce executes a single poll cycle and exits.
func runOnce(cfg *config.Config) error {
	p, store, err := newPoller(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("account", cfg.Account).Msg("Running one poll cycle")
	return p.RunCycle(ctx)
}

// runState prints the checkpoint store contents, or clears it with -reset.
func runState(cfg *config.Config, reset bool) error {
	store, err := checkpoint.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()

	if reset {
		if err := store.Clear(); err != nil {
			return err
		}
		log.Info().Str("path", cfg.DBPath).Msg("Checkpoint store cleared")
		return nil
	}

	keys, err := store.Keys()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("checkpoint store is empty")
		return nil
	}
	for _, key := range keys {
		value, _, err := store.Get(key)
		if err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", key, value)
	}
	return nil
}

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"example.com/spaserve/internal/config"
	"example.com/spaserve/internal/handlers/staticfileserver"
	"example.com/spaserve/internal/logger"
	"example.com/spaserve/internal/router"
	"example.com/spaserve/internal/server"
	"example.com/spaserve/internal/workdir"
)

const defaultEnvFile = ".env"

// options are the parsed command-line flags. Zero values mean "not given".
type options struct {
	configPath string
	envPath    string
	root       string
	port       int
	portSet    bool
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}
	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	flags.SetOutput(output)
	flags.StringVar(&opts.configPath, "config", "", "Path to the configuration file (JSON, TOML or YAML)")
	flags.StringVar(&opts.envPath, "env", "", "Path to a .env file (default: ./.env if present)")
	flags.StringVar(&opts.root, "root", "", "Directory to serve (default: current directory)")
	flags.IntVar(&opts.port, "port", config.DefaultPort, "Port to listen on")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if flags.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	flags.Visit(func(f *flag.Flag) {
		if f.Name == "port" {
			opts.portSet = true
		}
	})
	return opts, nil
}

// envLookup returns a lookup over the process environment backed by the
// values of a .env file. Process variables win.
func envLookup(envPath string) (func(string) (string, bool), error) {
	path := envPath
	if path == "" {
		path = defaultEnvFile
	}
	dotenv, err := godotenv.Read(path)
	if err != nil {
		if envPath != "" || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		dotenv = map[string]string{}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

// buildConfig layers defaults, the config file, the environment and flags.
func buildConfig(opts *options, lookup func(string) (string, bool)) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath != "" {
		absConfigPath, err := filepath.Abs(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("error getting absolute path for config file %s: %w", opts.configPath, err)
		}
		cfg, err = config.LoadConfig(absConfigPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if err := config.ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if opts.portSet {
		port := opts.port
		cfg.Server.Port = &port
	}
	if opts.root != "" {
		cfg.Static.DocumentRoot = opts.root
	}
	if cfg.Static.DocumentRoot != "" {
		abs, err := filepath.Abs(cfg.Static.DocumentRoot)
		if err != nil {
			return nil, fmt.Errorf("error getting absolute path for document root %s: %w", cfg.Static.DocumentRoot, err)
		}
		cfg.Static.DocumentRoot = abs
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printBanner(w io.Writer, cfg *config.Config) {
	bold := color.New(color.FgGreen, color.Bold)
	bold.Fprintf(w, "serving at port %d\n", *cfg.Server.Port)
	if cfg.Static.DocumentRoot != "" {
		color.New(color.FgCyan).Fprintf(w, "root %s\n", cfg.Static.DocumentRoot)
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	lookup, err := envLookup(opts.envPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cfg, err := buildConfig(opts, lookup)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	appLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() {
		if err := appLogger.CloseLogFiles(); err != nil {
			log.Printf("Error closing log files during shutdown: %v", err)
		}
	}()

	// The serving root is the working directory, so the configured root becomes it.
	if cfg.Static.DocumentRoot != "" {
		if err := os.Chdir(cfg.Static.DocumentRoot); err != nil {
			appLogger.Error("Failed to change to document root", logger.LogFields{
				"root":  cfg.Static.DocumentRoot,
				"error": err.Error(),
			})
			return 1
		}
	}

	handler, err := staticfileserver.New(cfg, appLogger, workdir.New(appLogger))
	if err != nil {
		appLogger.Error("Failed to initialize handler", logger.LogFields{"error": err.Error()})
		return 1
	}
	srv, err := server.NewServer(cfg, appLogger, router.New(handler, appLogger))
	if err != nil {
		appLogger.Error("Failed to initialize server", logger.LogFields{"error": err.Error()})
		return 1
	}

	printBanner(stdout, cfg)
	appLogger.Info("Starting server", logger.LogFields{"address": cfg.Server.ListenAddress()})

	if err := srv.Start(); err != nil {
		appLogger.Error("Server exited with an error", logger.LogFields{"error": err.Error()})
		return 1
	}
	appLogger.Info("Server has shut down gracefully", nil)
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], color.Output, os.Stderr))
}

// Package main is the yvan CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/yvan/internal/app"
	"github.com/hyperjump/yvan/internal/cli"
	"github.com/hyperjump/yvan/internal/config"
	"github.com/hyperjump/yvan/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/yvan/config.yaml"
	defaultServerURL  = "http://localhost:8000"
	clientTimeout     = 10 * time.Minute
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	debug      bool
	serverURL  string
	output     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "yvan",
		Short: "Ask questions about your documents",
		Long: `yvan ingests PDFs and other documents into a local vector index and answers
questions from them with a language model, citing the source files.

Commands that read or change the index talk to a running server (--server) so
the CLI never writes the snapshot the server owns. Use --server "" to work on
the index directly when no server is running.`,
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flags.StringVar(&opts.serverURL, "server", defaultServerURL, `server URL (empty = work on the index directly)`)
	flags.StringVarP(&opts.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServerCmd(opts),
		newIngestCmd(opts),
		newAskCmd(opts),
		newStatusCmd(opts),
		newDocumentsCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists, and is also used when the default file is
// missing so relative storage paths resolve against the working directory.
// Variables from ./.env are applied first. Returns the config and the path loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			_, fallbackErr := os.Stat(fallback)
			_, defaultErr := os.Stat(defaultConfigPath)
			if fallbackErr == nil || defaultErr != nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func (o *options) format() (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(o.output)
}

func (o *options) client() *cli.Client {
	return cli.NewClient(o.serverURL, clientTimeout)
}

// openApp loads the config and builds the application for direct mode.
// The caller must call the returned cleanup.
func (o *options) openApp(appOpts ...app.Option) (*app.App, *zap.Logger, func(), error) {
	cfg, resolved, err := loadConfig(o.configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || o.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	a, err := app.New(cfg, append([]app.Option{app.WithLogger(logger)}, appOpts...)...)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, fmt.Errorf("failed to initialize: %w", err)
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return a, logger, cleanup, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("yvan version %s\n", version)
		},
	}
}

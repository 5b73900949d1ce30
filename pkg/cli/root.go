package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/trustcore/pkg/config"
	"github.com/telekom/trustcore/pkg/system"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	Debug        bool
}

type runtimeState struct {
	configPath   string
	outputFormat string
	debug        bool
	writer       io.Writer
	logger       *zap.Logger
}

type runtimeKey struct{}

// DefaultConfig reads the TRUSTCORE_CONFIG and TRUSTCORE_DEBUG environment variables.
func DefaultConfig() Config {
	return Config{
		ConfigPath:   getEnvString(config.EnvConfigPath, config.DefaultPath),
		OutputWriter: os.Stdout,
		Debug:        getEnvBool("TRUSTCORE_DEBUG", false),
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter, debug: cfg.Debug}

	root := &cobra.Command{
		Use:           "trustcore",
		Short:         "Audit, circuit health and capability policy for agent runtimes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("TRUSTCORE_OUTPUT")
			}
			if rt.logger == nil {
				logger, err := system.NewLogger(rt.debug)
				if err != nil {
					return err
				}
				rt.logger = logger
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", rt.debug, "Enable debug level logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewServeCommand(),
		NewPolicyCommand(),
		NewAuditCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) OutputFormat() Format {
	if rt.outputFormat != "" {
		return Format(strings.ToLower(rt.outputFormat))
	}
	return FormatTable
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) Logger() *zap.Logger {
	if rt.logger != nil {
		return rt.logger
	}
	return zap.NewNop()
}

// LoadConfig loads the file named by --config. A missing file at the default
// location yields the defaults so "trustcore serve" works out of the box.
func (rt *runtimeState) LoadConfig() (config.Config, error) {
	cfg, err := config.Load(rt.configPath)
	if err == nil {
		return cfg, nil
	}
	if rt.configPath == config.DefaultPath && errors.Is(err, os.ErrNotExist) {
		rt.Logger().Info("No config file found, using defaults", zap.String("path", rt.configPath))
		return config.Default(), nil
	}
	return cfg, err
}

// getEnvString returns the value of an environment variable or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/ctrldec/trafficmirror/internal/config"
	"github.com/ctrldec/trafficmirror/internal/logging"
	intOtel "github.com/ctrldec/trafficmirror/internal/otel"
)

// BuildDate can be set at build time via ldflags
var (
	CurrentVersion = "0.0.1"
	BuildDate      = "unknown"

	AppName = "trafficmirror"
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	LogFile     *os.File
	LogFilePath string

	SessionStartTime = time.Now()
)

// CLI flags
var (
	configDir string
	logLevel  string
	logStdout bool
)

var rootCmd = &cobra.Command{
	Use:     AppName,
	Short:   "Mirror the vehicles and signals of a running SUMO simulation",
	Version: CurrentVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdown()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory containing "+config.FileName)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&logStdout, "log-stdout", false, "Log to stdout instead of the logs directory")
	rootCmd.SetVersionTemplate(fmt.Sprintf("%s %s (built %s)\n", AppName, CurrentVersion, BuildDate))

	rootCmd.AddCommand(runCmd, routesCmd, signalsCmd, injectCmd, networkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the config, opens the log file, starts the OTel provider
// and builds the final logger, in that order.
func setup(ctx context.Context) error {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(logging.Options{Level: "info"})
	Logger = SlogManager.Logger()

	if err := config.Load(configDir); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	}
	if logLevel != "" {
		viper.Set("logLevel", logLevel)
	}

	if !logStdout {
		f, path, err := logging.OpenLogFile(viper.GetString("logsDir"), AppName, SessionStartTime)
		if err != nil {
			return err
		}
		LogFile, LogFilePath = f, path
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var err error
		OTelProvider, err = intOtel.New(ctx, intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    logWriter(),
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
			Traces:       otelCfg.Traces,
			TraceWriter:  logWriter(),
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager.Setup(logging.Options{
		Output:   logWriter(),
		Level:    viper.GetString("logLevel"),
		Format:   viper.GetString("logFormat"),
		Provider: otelLogProvider,
	})
	Logger = SlogManager.Logger()
	if LogFilePath != "" {
		Logger.Info("Logging to file", "path", LogFilePath)
	}
	if OTelProvider != nil {
		Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint, "traces", otelCfg.Traces)
	}
	return nil
}

// logWriter returns the open log file, or nil so logs go to stdout.
func logWriter() io.Writer {
	if LogFile == nil {
		return nil
	}
	return LogFile
}

func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if SlogManager != nil {
		if err := SlogManager.Flush(ctx); err != nil {
			Logger.Warn("Failed to flush logs", "error", err)
		}
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Warn("Failed to shut down OTel provider", "error", err)
		}
	}
	if LogFile != nil {
		_ = LogFile.Close()
	}
}

// Command radiopipe drives radio-interferometry data reduction: it executes
// procedures (or observatory processing requests) stage by stage against a
// working directory, checkpointing after every merge so broken runs resume
// where they stopped.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type app struct {
	workdir      string
	logLevel     string
	monitorAddr  string
	tier0Workers int
	shimPath     string
	ledgerDir    string

	log *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "radiopipe",
		Short:         "radio-interferometry reduction pipeline driver",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env is optional; flags and real env win over it
			_ = godotenv.Load()
			if a.shimPath == "" {
				a.shimPath = os.Getenv("RADIOPIPE_CASA_SHIM")
			}
			log, err := newLogger(a.logLevel)
			if err != nil {
				return err
			}
			a.log = log
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.workdir, "workdir", ".", "working directory holding measurement sets and run state")
	pf.StringVar(&a.logLevel, "loglevel", "info", "log level (debug and trace also keep per-stage checkpoints)")
	pf.StringVar(&a.monitorAddr, "monitor-addr", "", "serve the monitor endpoints on this address (empty disables)")
	pf.IntVar(&a.tier0Workers, "tier0-workers", 4, "worker pool size for per-target fan-out tasks")
	pf.StringVar(&a.shimPath, "casa-shim", "", "path to the CASA shim executable (default $RADIOPIPE_CASA_SHIM)")
	pf.StringVar(&a.ledgerDir, "ledger-dir", "", "run ledger directory (default <workdir>/.radiopipe/ledger)")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newResumeCmd(a))
	root.AddCommand(newPPRCmd(a))
	root.AddCommand(newShowCmd(a))
	return root
}

func newLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(level) {
	case "", "info":
	case "debug", "trace":
		lvl = zapcore.DebugLevel
	case "warn", "warning":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func (a *app) ledgerPath() string {
	if a.ledgerDir != "" {
		return a.ledgerDir
	}
	return filepath.Join(a.workdir, ".radiopipe", "ledger")
}

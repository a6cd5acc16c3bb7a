// Command catalogctl traces lineage in a metadata catalog and purges
// catalog content: governance assets, whole asset classes and the
// technical assets of catalog sources.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := &app{}
	err := newRootCmd(a, os.Getenv).ExecuteContext(ctx)
	if closeErr := a.close(); closeErr != nil && a.logger != nil {
		a.logger.Warn("shutdown incomplete", "error", closeErr)
	}
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath  string
	debug       bool
	logFormat   string
	metricsAddr string
	traceStdout bool
	history     string
	loginURL    string
	apiURL      string
	username    string
	rate        float64
}

func newRootCmd(a *app, getenv func(string) string) *cobra.Command {
	var f rootFlags

	cmd := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Trace lineage and purge content in a metadata catalog",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := f.configPath
			if !cmd.Flags().Changed("config") {
				path = getenv("CATALOGCTL_CONFIG")
			}
			cfg, err := LoadConfig(path, getenv)
			if err != nil {
				return err
			}
			applyFlags(&cfg, cmd.Flags(), f)
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			return a.setup(cmd.Context(), cmd.ErrOrStderr())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "path to a YAML config file (env CATALOGCTL_CONFIG)")
	pf.BoolVar(&f.debug, "debug", false, "enable debug logging")
	pf.StringVar(&f.logFormat, "log-format", defaultLogFormat, "log format: text|json")
	pf.StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	pf.BoolVar(&f.traceStdout, "trace-stdout", false, "print otel spans to stderr")
	pf.StringVar(&f.history, "history", defaultHistory, "campaign history: none|sqlite:<path>|redis://...")
	pf.StringVar(&f.loginURL, "login-url", defaultLoginURL, "identity service base URL")
	pf.StringVar(&f.apiURL, "api-url", defaultAPIURL, "catalog API base URL")
	pf.StringVarP(&f.username, "username", "u", "", "catalog user (password from CATALOGCTL_PASSWORD or the config file)")
	pf.Float64Var(&f.rate, "rate", defaultRateLimit, "maximum catalog requests per second, 0 for unlimited")

	cmd.AddCommand(
		newLineageCmd(a),
		newPurgeCmd(a),
		newHistoryCmd(a),
		newMCPCmd(a),
	)
	return cmd
}

// applyFlags copies the flags the user actually set over cfg.
func applyFlags(cfg *Config, fs *pflag.FlagSet, f rootFlags) {
	if fs.Changed("debug") {
		cfg.Debug = f.debug
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if fs.Changed("trace-stdout") {
		cfg.TraceStdout = f.traceStdout
	}
	if fs.Changed("history") {
		cfg.History = f.history
	}
	if fs.Changed("login-url") {
		cfg.LoginURL = f.loginURL
	}
	if fs.Changed("api-url") {
		cfg.APIURL = f.apiURL
	}
	if fs.Changed("username") {
		cfg.Username = f.username
	}
	if fs.Changed("rate") {
		cfg.RateLimit = f.rate
	}
}

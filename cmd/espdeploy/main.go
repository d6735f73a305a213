package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"espdeploy/internal/config"
	"espdeploy/internal/logging"
)

var Version = "dev"

var (
	v          = config.NewViper()
	configPath string
	rawOutput  bool
	theApp     *app
)

// exitError carries a process exit code through cobra
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// errUnsuccessful reports a run that completed but did not pass
func errUnsuccessful(msg string) error {
	return &exitError{code: 2, msg: msg}
}

var rootCmd = &cobra.Command{
	Use:           "espdeploy",
	Short:         "Flash, find, test and provision ESP8266 boards",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.ApplyOverrides(v)
		if err := cfg.Validate(); err != nil {
			return err
		}

		log := logging.New(os.Stderr, cfg.LoggingOptions())
		if path != "" {
			log.V(1).Info("Loaded config", "path", path)
		}

		ctx := logr.NewContext(cmd.Context(), log)
		cmd.SetContext(ctx)

		theApp = newApp(cfg, log, cmd.OutOrStdout())
		theApp.serveMetrics(ctx)
		theApp.traceEvents(ctx)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if theApp != nil {
			return theApp.close()
		}
		return nil
	},
}

func loadConfig() (*config.Config, string, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config-file", "c", "", "config file (default is searched, see `espdeploy diag`)")
	flags.BoolP("verbose", "v", false, "verbose output (info level)")
	flags.Bool("debug", false, "debug output (shows V(2) logs)")
	flags.BoolP("quiet", "q", false, "quiet output (errors only)")
	flags.Bool("json", false, "JSON logs even on a terminal")
	flags.Bool("no-color", false, "disable colored output")
	flags.BoolVar(&rawOutput, "raw", false, "print reports encoded in --format instead of rendered")
	flags.String("format", "", "report encoding for --raw and exports without an extension: json or yaml")
	flags.StringP("port", "p", "", "serial port (default is auto-detected)")
	flags.IntP("baud", "B", 0, "serial baud rate")
	flags.StringSliceP("address", "a", nil, "known device address, probed before any scan (repeatable)")
	flags.StringSlice("prefix", nil, "extra subnet to scan, e.g. 192.168.4 (repeatable)")
	flags.Bool("exhaustive", false, "scan every tier instead of stopping at the first device")
	flags.Bool("mdns", false, "add mDNS announced boards to the first tier")
	flags.Bool("nmap", false, "use nmap to order the comprehensive tier when installed")
	flags.String("data-dir", "", "directory holding the assets pushed to the board")
	flags.String("remote", "", "run arduino-cli on this SSH host")
	flags.String("metrics-listen", "", "serve Prometheus metrics on this address, e.g. :9464")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	bind(flags, map[string]string{
		"log.verbose":          "verbose",
		"log.debug":            "debug",
		"log.quiet":            "quiet",
		"log.json":             "json",
		"report.no_color":      "no-color",
		"report.format":        "format",
		"serial.port":          "port",
		"serial.baud":          "baud",
		"discovery.known":      "address",
		"discovery.prefixes":   "prefix",
		"discovery.exhaustive": "exhaustive",
		"discovery.mdns":       "mdns",
		"discovery.nmap":       "nmap",
		"assets.data_dir":      "data-dir",
		"remote.host":          "remote",
		"metrics.listen":       "metrics-listen",
	})

	rootCmd.AddCommand(deployCmd, scanCmd, testCmd, inspectCmd, ledCmd, relayCmd,
		provisionCmd, monitorCmd, portsCmd, boardsCmd, assetsCmd, diagCmd, reportCmd,
		webCmd, exampleCmd)
}

// bind maps config keys onto flags; only flags given on the command line
// override the file
func bind(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(os.Stderr, ee.msg)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return 1
}

package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"docharvest/pkg/config"
	"docharvest/pkg/logger"
	"docharvest/pkg/session"
	"docharvest/pkg/ui"
)

var (
	// Version information
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	outDir     string
	noColor    bool
	quiet      bool
	verbose    bool
)

// rootCmd fetches every document of the configured dataset range.
var rootCmd = &cobra.Command{
	Use:   "docharvest",
	Short: "Download paginated document sets from behind an age verification gate",
	Long: `docharvest walks the paginated listing of every dataset in a range, collects
the document links it finds and downloads each document once.

A real browser is used to pass the site's age verification page. The browser
session is saved next to the downloads and reused by later runs, so only the
first run needs --headed. Interrupted runs resume where they stopped: documents
already on disk are skipped and partial downloads are discarded.`,
	Example: `  # First run: confirm the age gate in a visible browser window
  docharvest --headed

  # Later runs can stay headless
  docharvest --dataset-start 3 --dataset-end 5

  # Plain HTTP engine with two download workers and a metrics endpoint
  docharvest --engine http --workers 2 --metrics-addr :9102`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runHarvest,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.NewPrinter(os.Stderr, colorEnabled(os.Stderr)).Error("docharvest failed", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "config file (default ./docharvest.yaml or ~/.config/docharvest/config.yaml)")
	pf.StringVarP(&outDir, "out", "o", "", "output directory (default ./epstein_pdfs)")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "no console logging; show a progress line instead")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	f := rootCmd.Flags()
	f.Int("dataset-start", 1, "first dataset to process")
	f.Int("dataset-end", 12, "last dataset to process (inclusive)")
	f.Bool("headed", false, "show the browser window; required once to confirm the age gate")
	f.Bool("headless", false, "run the browser without a window (default)")
	f.Bool("use-chrome-channel", false, "use the installed Google Chrome instead of the bundled Chromium lookup")
	f.String("engine", "", "browser engine: chrome or http")
	f.Duration("sleep", 600*time.Millisecond, "base pause between downloads")
	f.Duration("jitter", 400*time.Millisecond, "random extra pause between downloads")
	f.Int("max-index-pages", 5000, "listing page cap per dataset")
	f.Int("workers", 1, "download workers, one browser each")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.Bool("no-journal", false, "do not record the run in the SQLite journal")
	f.Bool("encrypt-session", false, "encrypt the saved session with a keyring-held passphrase")
	f.Bool("notify", false, "send a desktop notification when the run ends")
	rootCmd.MarkFlagsMutuallyExclusive("headed", "headless")

	rootCmd.SetVersionTemplate("docharvest {{.Version}}\n" + platformInfo())

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// flagOverrides returns the explicitly set flags keyed by name, in the
// shape config.MergeCommandLineFlags expects.
func flagOverrides(fs *pflag.FlagSet) map[string]interface{} {
	flags := make(map[string]interface{})
	fs.Visit(func(f *pflag.Flag) {
		var (
			v   interface{}
			err error
		)
		switch f.Value.Type() {
		case "int":
			v, err = fs.GetInt(f.Name)
		case "bool":
			v, err = fs.GetBool(f.Name)
		case "duration":
			v, err = fs.GetDuration(f.Name)
		default:
			v = f.Value.String()
		}
		if err == nil {
			flags[f.Name] = v
		}
	})
	if verbose && !fs.Changed("log-level") {
		flags["log-level"] = "debug"
	}
	return flags
}

// loadConfig resolves the configuration for cmd from every source.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, flagOverrides(cmd.Flags()))
	if err != nil {
		return nil, err
	}
	cfg.Logging.NoColor = cfg.Logging.NoColor || noColor || !colorEnabled(os.Stderr)
	return cfg, nil
}

// newLogger builds the run logger: console (unless quiet) plus the
// persistent download log.
func newLogger(cfg *config.Config) (logger.Logger, error) {
	lc := cfg.Logging
	lc.File = cfg.LogPath()
	log, err := logger.New(&lc)
	if err != nil {
		return nil, err
	}
	logger.SetLogger(log)
	return log, nil
}

// sessionStore opens the session file, with encryption when configured.
func sessionStore(cfg *config.Config, log logger.Logger) (*session.Store, error) {
	var sealer session.Sealer
	if cfg.Session.Encrypt {
		pass, err := session.Passphrase()
		if err != nil {
			return nil, err
		}
		s, err := session.NewPassphraseSealer(pass)
		if err != nil {
			return nil, err
		}
		sealer = s
	}
	return session.NewStore(cfg.SessionPath(), sealer, log), nil
}

func platformInfo() string {
	return "Go Version: " + runtime.Version() + "\nOS/Arch: " + runtime.GOOS + "/" + runtime.GOARCH + "\n"
}

func colorEnabled(f *os.File) bool {
	return !noColor && os.Getenv("NO_COLOR") == "" && ui.IsTerminal(f)
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"docharvest/pkg/logger"
	"docharvest/pkg/session"
	"docharvest/pkg/ui"
)

var forgetPassphrase bool

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or remove the saved browser session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show what the saved session contains",
	Args:  cobra.NoArgs,
	RunE:  runSessionShow,
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the saved session",
	Long: `Delete the saved session so the next run starts fresh and has to pass the
age gate again (use --headed for that run).`,
	Args: cobra.NoArgs,
	RunE: runSessionClear,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)

	sessionClearCmd.Flags().BoolVar(&forgetPassphrase, "forget-passphrase", false, "also remove the encryption passphrase from the keyring")
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := sessionStore(cfg, logger.NewNopLogger())
	if err != nil {
		return err
	}

	out := ui.NewPrinter(cmd.OutOrStdout(), colorEnabled(os.Stdout))
	out.Info("Session file", store.Path())
	if !store.Exists() {
		out.Warning("no saved session; run once with --headed")
		return nil
	}

	st := store.Load()
	if st == nil {
		out.Warning("saved session is unreadable and will be ignored")
		return nil
	}

	now := time.Now()
	out.Info("Gate cleared", fmt.Sprint(st.GateCleared))
	if !st.ClearedAt.IsZero() {
		out.Info("Cleared at", st.ClearedAt.Local().Format(time.RFC1123))
	}
	if !st.SavedAt.IsZero() {
		out.Info("Saved at", st.SavedAt.Local().Format(time.RFC1123))
	}
	out.Info("Cookies", fmt.Sprintf("%d (%d live)", len(st.Cookies), len(st.LiveCookies(now))))
	for _, c := range st.Cookies {
		state := "live"
		if c.Expired(now) {
			state = "expired"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s @ %s%s (%s)\n", c.Name, c.Domain, c.Path, state)
	}
	out.Info("Origins", fmt.Sprint(len(st.Origins)))
	return nil
}

func runSessionClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store := session.NewStore(cfg.SessionPath(), nil, nil)
	if err := store.Clear(); err != nil {
		return err
	}

	out := ui.NewPrinter(cmd.OutOrStdout(), colorEnabled(os.Stdout))
	out.Success("Session removed: " + store.Path())

	if forgetPassphrase {
		if err := session.ForgetPassphrase(); err != nil {
			return err
		}
		out.Success("Passphrase removed from keyring")
	}
	return nil
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"docharvest/pkg/config"
	"docharvest/pkg/ui"
)

const defaultConfigPath = "docharvest.yaml"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage docharvest configuration files.

Configuration is layered, highest priority first:
  - Command line flags
  - Environment variables (DOCHARVEST_*, also read from .env)
  - Configuration file
  - Default values`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	Long: `Write every option with its default value to a YAML file.

The file is created as 'docharvest.yaml' in the current directory unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration from every source and check it.

Besides value ranges this checks that the document pattern compiles with
the dataset and id groups and that the output directory can be created.`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = defaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	out := ui.NewPrinter(cmd.OutOrStdout(), colorEnabled(os.Stdout))
	out.Success("Configuration file created: " + path)
	fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
	fmt.Fprintln(cmd.OutOrStdout(), "1. Adjust the site and output sections if needed")
	fmt.Fprintln(cmd.OutOrStdout(), "2. Run 'docharvest config validate'")
	fmt.Fprintln(cmd.OutOrStdout(), "3. Run 'docharvest --headed' once to confirm the age gate")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprint(w, string(data))
	fmt.Fprintln(w, "\nDerived paths:")
	fmt.Fprintf(w, "  session: %s\n", cfg.SessionPath())
	fmt.Fprintf(w, "  log:     %s\n", cfg.LogPath())
	fmt.Fprintf(w, "  journal: %s\n", cfg.JournalPath())
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	out := ui.NewPrinter(cmd.OutOrStdout(), colorEnabled(os.Stdout))

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var problems []error
	if err := os.MkdirAll(cfg.Output.BaseDirectory, 0755); err != nil {
		problems = append(problems, fmt.Errorf("cannot create output directory: %w", err))
	}
	if cfg.Browser.Engine == "http" && !cfg.Browser.Headless {
		out.Warning("the http engine has no window; --headed only enables the operator prompt")
	}
	if cfg.Download.Workers > 1 {
		out.Warning(fmt.Sprintf("%d workers each start their own browser", cfg.Download.Workers))
	}
	if err := errors.Join(problems...); err != nil {
		return err
	}

	out.Success("Configuration is valid")
	out.Info("Output directory", cfg.Output.BaseDirectory)
	out.Info("Datasets", rangeLabel(cfg.Datasets.Start, cfg.Datasets.End))
	out.Info("Engine", engineLabel(cfg.Browser.Engine, cfg.Browser.Headless))
	out.Info("Workers", fmt.Sprint(cfg.Download.Workers))
	return nil
}

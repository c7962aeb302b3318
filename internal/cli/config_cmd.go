package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/harun/triad/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var (
	configForce  bool
	configFormat string
)

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "json", "output format (json, yaml)")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	text, err := renderConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "\nWarning: %v\n", err)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	path := loader.GetConfigPath()

	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}

	if err := loader.Save(config.DefaultConfig()); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Set ANTHROPIC_API_KEY, then run: triad \"<instruction>\"")
	return nil
}

// renderConfig prints cfg with secrets masked in the requested format.
func renderConfig(cfg *config.Config, format string) (string, error) {
	masked := cfg.String()
	switch format {
	case "", "json":
		return masked, nil
	case "yaml":
		var tree map[string]interface{}
		if err := json.Unmarshal([]byte(masked), &tree); err != nil {
			return "", fmt.Errorf("failed to decode configuration: %w", err)
		}
		data, err := yaml.Marshal(tree)
		if err != nil {
			return "", fmt.Errorf("failed to encode configuration: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown format %q (use json or yaml)", format)
	}
}

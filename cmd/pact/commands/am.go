package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/pact/am"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage pact configuration",
	Long: sym.AM + ` am: Manage pact configuration

Display and manage pact configuration settings.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (PACT_* prefix)
3. Project config (./am.toml, searched upwards)
4. User config (~/.pact/am.toml)
5. System config (/etc/pact/am.toml)
6. Default values

Examples:
  pact am show                         # Show current configuration
  pact am show --format json           # Show configuration in JSON format
  pact am get judge.model              # Get specific config value
  pact am set certification.workers 8  # Update ./am.toml
  pact am validate                     # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current pact configuration from all sources",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., judge.model, certification.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in a config file",
	Long:  "Write one dotted key to the project am.toml (or --file), keeping a backup of the previous file",
	Args:  cobra.ExactArgs(2),
	RunE:  runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long:  "Validate that the current pact configuration is valid",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long:  "List every effective setting with the source that supplied it",
	RunE:  runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with every default",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var (
	configFormat string
	amFile       string
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amSetCmd.Flags().StringVar(&amFile, "file", "am.toml", "Config file to update")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	data, err := renderConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

// renderConfig marshals cfg in the requested format. Secrets are masked.
func renderConfig(cfg *am.Config, format string) ([]byte, error) {
	masked := *cfg
	if masked.Judge.APIKey != "" {
		masked.Judge.APIKey = "********"
	}
	if masked.Redis.Password != "" {
		masked.Redis.Password = "********"
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(masked, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal config to JSON")
		}
		return append(data, '\n'), nil
	case "yaml":
		data, err := yaml.Marshal(masked)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal config to YAML")
		}
		return append([]byte("# pact configuration\n"), data...), nil
	case "toml":
		data, err := toml.Marshal(masked)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal config to TOML")
		}
		return append([]byte("# pact configuration\n"), data...), nil
	}
	return nil, errors.Newf("unsupported format: %s (supported: toml, json, yaml)", format)
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	v := am.GetViper()
	if !v.IsSet(key) {
		return errors.NewNotFoundError("configuration key %q not found", key)
	}
	fmt.Fprintln(cmd.OutOrStdout(), am.Get(key))
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	if err := am.SetValue(amFile, args[0], parseValue(args[1])); err != nil {
		return errors.Wrapf(err, "failed to update %s", amFile)
	}
	pterm.Success.Printfln("%s = %s written to %s", args[0], args[1], amFile)
	return nil
}

// parseValue keeps booleans and numbers typed in the TOML file.
func parseValue(raw string) interface{} {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd, true); err != nil {
		return err
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration cascade (later overrides earlier):")
	fmt.Fprintln(cmd.OutOrStdout(), "  1. [DEFAULT]  Built-in defaults")
	fmt.Fprintln(cmd.OutOrStdout(), "  2. [SYSTEM]   /etc/pact/am.toml")
	fmt.Fprintln(cmd.OutOrStdout(), "  3. [USER]     ~/.pact/am.toml")
	fmt.Fprintln(cmd.OutOrStdout(), "  4. [PROJECT]  ./am.toml (searches up directories)")
	fmt.Fprintln(cmd.OutOrStdout(), "  5. [ENV]      PACT_* environment variables")
	fmt.Fprintln(cmd.OutOrStdout())

	data := [][]string{{"Key", "Value", "Source", "From"}}
	for _, s := range am.Introspect() {
		value := fmt.Sprintf("%v", s.Value)
		if len(value) > 50 {
			value = value[:47] + "..."
		}
		data = append(data, []string{s.Key, value, string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render()
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := "am.toml"
	if len(args) == 1 {
		path = args[0]
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	if err := am.InitFile(path); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	pterm.Success.Printfln("Default configuration written to %s", path)
	return nil
}

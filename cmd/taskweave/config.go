package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/taskweave/internal/config"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long: `View the effective taskweave configuration.

Configuration is read from ~/.config/taskweave/config.yaml, then from
.taskweave.yaml in the working directory or a parent, then from
TASKWEAVE_* environment variables.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(configFormat); err != nil {
			return err
		}
		if configFormat == formatTable {
			configFormat = formatYAML
		}
		return encode(cmd.OutOrStdout(), configFormat, cfg.Redacted())
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Long:  `Print a value by dotted key, for example execution.max_concurrency.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := configValue(cfg.Redacted(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file locations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		user := config.GetUserConfigPath()
		fmt.Fprintf(out, "user:    %s%s\n", user, missing(user))
		if project := config.GetProjectConfigPath(); project != "" {
			fmt.Fprintf(out, "project: %s\n", project)
		} else {
			fmt.Fprintf(out, "project: (none, looked for %s)\n", config.ProjectConfigName)
		}
		if cfgFile != "" {
			fmt.Fprintf(out, "flag:    %s%s\n", cfgFile, missing(cfgFile))
		}
	},
}

func init() {
	configShowCmd.Flags().StringVarP(&configFormat, "format", "f", formatYAML, "Output format: yaml or json")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)
}

func missing(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return " (not found)"
	}
	return ""
}

// configValue looks up a dotted key in the YAML form of c.
func configValue(c *config.Config, key string) (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	var node any
	if err := yaml.Unmarshal(data, &node); err != nil {
		return "", err
	}

	for _, part := range strings.Split(strings.ToLower(key), ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return "", fmt.Errorf("unknown configuration key: %s", key)
		}
		if node, ok = m[part]; !ok {
			return "", fmt.Errorf("unknown configuration key: %s", key)
		}
	}

	if _, ok := node.(map[string]any); ok {
		out, err := yaml.Marshal(node)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(out), "\n"), nil
	}
	return fmt.Sprint(node), nil
}

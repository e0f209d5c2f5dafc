package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
)

var connectorCmd = &cobra.Command{
	Use:   "connector",
	Short: "Manage connector configurations",
	RunE:  runConnectorList,
}

var connectorAddCmd = &cobra.Command{
	Use:   "add <type> <name>",
	Short: "Add a connector",
	Long: `Adds a connector of the given type. Connector-specific configuration
is passed with repeated --config key=value flags; run "bankfeed
connector types" to see which keys each type supports.`,
	Args: cobra.ExactArgs(2),
	RunE: runConnectorAdd,
}

var connectorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured connectors",
	RunE:  runConnectorList,
}

var connectorRemoveCmd = &cobra.Command{
	Use:   "remove <connector-id>",
	Short: "Remove a connector and its state",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectorRemove,
}

var connectorTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List supported connector types",
	RunE:  runConnectorTypes,
}

var connectorAddConfig []string

func init() {
	connectorAddCmd.Flags().StringArrayVar(&connectorAddConfig, "config", nil, "configuration entry, key=value (repeatable)")
	connectorCmd.AddCommand(connectorAddCmd)
	connectorCmd.AddCommand(connectorListCmd)
	connectorCmd.AddCommand(connectorRemoveCmd)
	connectorCmd.AddCommand(connectorTypesCmd)
	rootCmd.AddCommand(connectorCmd)
}

func runConnectorAdd(cmd *cobra.Command, args []string) error {
	if connectorService == nil {
		return errors.New("connector service not configured")
	}

	config := make(map[string]string, len(connectorAddConfig))
	for _, entry := range connectorAddConfig {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return fmt.Errorf("invalid --config entry %q, expected key=value", entry)
		}
		config[key] = value
	}

	c := domain.Connector{
		Type:   args[0],
		Name:   args[1],
		Config: config,
	}
	if err := connectorService.Create(context.Background(), c); err != nil {
		return fmt.Errorf("adding connector: %w", err)
	}

	cmd.Printf("Connector %q added.\n", args[1])
	return nil
}

func runConnectorList(cmd *cobra.Command, _ []string) error {
	if connectorService == nil {
		return errors.New("connector service not configured")
	}

	connectors, err := connectorService.List(context.Background())
	if err != nil {
		return fmt.Errorf("listing connectors: %w", err)
	}

	if len(connectors) == 0 {
		cmd.Println("No connectors configured.")
		return nil
	}

	for _, c := range connectors {
		line := fmt.Sprintf("%s  %-10s %s", c.ID, c.Type, c.Name)
		if c.LastError != "" {
			line += "  (last error: " + c.LastError + ")"
		}
		cmd.Println(line)
	}
	return nil
}

func runConnectorRemove(cmd *cobra.Command, args []string) error {
	if connectorService == nil {
		return errors.New("connector service not configured")
	}

	if err := connectorService.Delete(context.Background(), args[0]); err != nil {
		return fmt.Errorf("removing connector: %w", err)
	}

	cmd.Printf("Connector %s removed.\n", args[0])
	return nil
}

func runConnectorTypes(cmd *cobra.Command, _ []string) error {
	if connectorService == nil {
		return errors.New("connector service not configured")
	}

	for _, t := range connectorService.Types() {
		cmd.Printf("%s - %s\n", t.ID, t.Description)
		for _, key := range t.ConfigKeys {
			required := ""
			if key.Required {
				required = " (required)"
			}
			cmd.Printf("    %-20s %s%s\n", key.Key, key.Description, required)
		}
	}
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <connector-id>",
	Short: "Show the connector's current state",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <connector-id>",
	Short: "End the connector's session",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisconnect,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(disconnectCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if connectorService == nil {
		return errors.New("connector service not configured")
	}

	state, err := connectorService.Status(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}

	cmd.Printf("Status: %s\n", state.Status)
	if state.Message != "" {
		cmd.Printf("  %s\n", state.Message)
	}
	if state.Challenge != nil {
		printChallenge(cmd, state.Challenge)
	}
	if state.Progress != nil {
		cmd.Printf("  progress: %d/%d\n", state.Progress.Current, state.Progress.Total)
	}
	return nil
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	if connectorService == nil {
		return errors.New("connector service not configured")
	}

	if err := connectorService.Disconnect(context.Background(), args[0]); err != nil {
		return fmt.Errorf("disconnect failed: %w", err)
	}

	cmd.Println("Disconnected.")
	return nil
}

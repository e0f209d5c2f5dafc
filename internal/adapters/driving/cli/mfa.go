package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var mfaCmd = &cobra.Command{
	Use:   "mfa <connector-id> [code]",
	Short: "Resolve a pending second-factor challenge",
	Long: `Submits a TAN or OTP code for the pending challenge. For decoupled
challenges (confirmation in a banking app) omit the code; the command
polls the source once and reports whether the confirmation arrived.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runMFA,
}

func init() {
	rootCmd.AddCommand(mfaCmd)
}

func runMFA(cmd *cobra.Command, args []string) error {
	if connectorService == nil {
		return errors.New("connector service not configured")
	}

	code := ""
	if len(args) > 1 {
		code = args[1]
	}

	resolution, err := connectorService.SubmitMFA(context.Background(), args[0], code)
	if err != nil {
		return fmt.Errorf("resolving challenge: %w", err)
	}

	if resolution.StillPending {
		cmd.Println("Still pending. Confirm in your banking app, then retry.")
		return nil
	}

	switch {
	case resolution.Connect != nil:
		if resolution.Connect.RequiresMFA {
			printChallenge(cmd, resolution.Connect.Challenge)
			return nil
		}
		cmd.Println("Connected.")
		printAccounts(cmd, resolution.Connect.Accounts)

	case resolution.Fetch != nil:
		if resolution.Fetch.RequiresMFA {
			printChallenge(cmd, resolution.Fetch.Challenge)
			return nil
		}
		printTransactions(cmd, resolution.Fetch.Transactions, resolution.Fetch.Stats)
	}
	return nil
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
)

var connectCmd = &cobra.Command{
	Use:   "connect <connector-id>",
	Short: "Authenticate a connector",
	Long: `Starts authentication for the connector. The PIN or password is read
from the terminal without echo and handed straight to the adapter; it
is never written to disk. If the source demands a second factor the
pending challenge is printed; resolve it with "bankfeed mfa".`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectUser     string
	connectBankCode string
)

func init() {
	connectCmd.Flags().StringVar(&connectUser, "user", "", "login identifier at the source")
	connectCmd.Flags().StringVar(&connectBankCode, "bank-code", "", "routing code for banking-protocol sources")
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	if connectorService == nil {
		return errors.New("connector service not configured")
	}

	user := connectUser
	if user == "" {
		cmd.Print("Login ID: ")
		user = readLine()
	}

	cmd.Print("PIN/password: ")
	secret := readSecret()
	cmd.Println()
	if secret == "" {
		return errors.New("empty secret")
	}

	creds := domain.Credentials{
		UserID:   user,
		Secret:   secret,
		BankCode: connectBankCode,
	}

	result, err := connectorService.Connect(context.Background(), args[0], creds)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}

	if result.RequiresMFA {
		printChallenge(cmd, result.Challenge)
		return nil
	}

	cmd.Println("Connected.")
	printAccounts(cmd, result.Accounts)
	return nil
}

// printChallenge renders a pending second factor, saving photo-TAN
// images next to the current directory for external viewing.
func printChallenge(cmd *cobra.Command, ch *domain.MFAChallenge) {
	if ch == nil {
		return
	}

	cmd.Printf("Second factor required (%s): %s\n", ch.Type, ch.Message)
	if len(ch.ImagePNG) > 0 {
		path := "bankfeed-challenge.png"
		if err := os.WriteFile(path, ch.ImagePNG, 0600); err == nil {
			cmd.Printf("Challenge image written to %s\n", path)
		}
	}
	if ch.Decoupled {
		cmd.Println("Confirm in your banking app, then run: bankfeed mfa <connector-id>")
	} else {
		cmd.Println("Submit the code with: bankfeed mfa <connector-id> <code>")
	}
}

func printAccounts(cmd *cobra.Command, accounts []domain.AccountInfo) {
	for _, a := range accounts {
		id := a.IBAN
		if id == "" {
			id = a.Number
		}
		cmd.Printf("  %s  %s %s\n", id, a.Type, a.Currency)
	}
}

// readSecret reads a line without echo when stdin is a terminal.
func readSecret() string {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err == nil {
			return string(secret)
		}
	}
	// Fallback to regular input
	return readLine()
}

func readLine() string {
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

// Package cli implements the command-line driving adapter. Commands
// talk to the core exclusively through the driving ports; services are
// injected once at startup via Execute.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driving"
	"github.com/custodia-labs/bankfeed/internal/logger"
)

// Services injected by Execute. Tests swap these for mocks.
var (
	connectorService driving.ConnectorService
	importService    driving.ImportService
	configStore      driven.ConfigStore
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "bankfeed",
	Short: "Aggregate bank transactions from heterogeneous sources",
	Long: `bankfeed connects to banks and payment providers through pluggable
connectors (FinTS dialogs, token APIs, browser automation), resolves
second-factor challenges, and turns everything into one canonical
transaction stream. Offline exports can be imported from files or a
watched drop directory.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

// Execute wires the injected services into the command tree and runs it.
func Execute(connectors driving.ConnectorService, imports driving.ImportService, config driven.ConfigStore) error {
	connectorService = connectors
	importService = imports
	configStore = config
	return rootCmd.Execute()
}

// Command bankfeed aggregates bank transactions from heterogeneous
// sources into one canonical stream.
package main

import (
	"fmt"
	"os"

	"github.com/custodia-labs/bankfeed/internal/adapters/driven/browserpage"
	configfile "github.com/custodia-labs/bankfeed/internal/adapters/driven/config/file"
	"github.com/custodia-labs/bankfeed/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/bankfeed/internal/adapters/driving/cli"
	"github.com/custodia-labs/bankfeed/internal/connectors"
	"github.com/custodia-labs/bankfeed/internal/core/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config, err := configfile.NewConfigStore("")
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	dataDir := config.GetString("data.dir")

	store, err := sqlite.NewStore(dataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	headless := true
	if _, ok := config.Get("browser.headless"); ok {
		headless = config.GetBool("browser.headless")
	}
	pages, err := browserpage.NewFactory(dataDir, headless)
	if err != nil {
		return fmt.Errorf("creating page factory: %w", err)
	}
	defer pages.Close()

	factory := connectors.NewFactory(pages)
	connectorService := services.NewConnectorService(factory, store.ConnectorStore(), store.SyncStateStore())
	importService := services.NewImportService(store.ImportLogStore())

	return cli.Execute(connectorService, importService, config)
}

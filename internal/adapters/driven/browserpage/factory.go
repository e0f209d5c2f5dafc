package browserpage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
)

// Ensure Factory implements the interface.
var _ driven.PageFactory = (*Factory)(nil)

// Factory creates and caches one browser page per connector id.
type Factory struct {
	mu       sync.Mutex
	dataDir  string
	headless bool
	pages    map[string]*page
}

// NewFactory creates a page factory. Profiles are stored under
// dataDir/profiles/<connector-id>; if dataDir is empty it defaults to
// ~/.bankfeed/data.
func NewFactory(dataDir string, headless bool) (*Factory, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".bankfeed", "data")
	}

	return &Factory{
		dataDir:  dataDir,
		headless: headless,
		pages:    make(map[string]*page),
	}, nil
}

// Page returns the persistent page for the connector, launching a
// browser on first use.
func (f *Factory) Page(ctx context.Context, connectorID string) (driven.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.pages[connectorID]; ok {
		return p, nil
	}

	profileDir := filepath.Join(f.dataDir, "profiles", connectorID)
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("creating profile directory: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("headless", f.headless),
	)

	// The browser outlives the calling context; it is torn down via
	// Release, not via ctx cancellation.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Start the browser now so a missing Chrome binary surfaces here
	// instead of on the first Navigate.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	p := &page{
		ctx:         tabCtx,
		cancelTab:   tabCancel,
		cancelAlloc: allocCancel,
	}
	f.pages[connectorID] = p
	return p, nil
}

// Release closes and forgets the page for the connector.
func (f *Factory) Release(connectorID string) error {
	f.mu.Lock()
	p, ok := f.pages[connectorID]
	delete(f.pages, connectorID)
	f.mu.Unlock()

	if !ok {
		return nil
	}
	return p.Close()
}

// Close releases every page the factory still holds.
func (f *Factory) Close() error {
	f.mu.Lock()
	pages := f.pages
	f.pages = make(map[string]*page)
	f.mu.Unlock()

	var firstErr error
	for _, p := range pages {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

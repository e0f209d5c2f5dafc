package browserpage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
)

// Ensure page implements the interface.
var _ driven.Page = (*page)(nil)

// page wraps one chromedp tab context. The tab's own context carries
// the browser lifetime; per-call contexts only bound individual
// operations.
type page struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// run executes actions against the tab, honouring the caller's
// deadline without cancelling the tab itself.
func (p *page) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(p.ctx, actions...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Navigate loads the URL and waits for the load event.
func (p *page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// CurrentURL returns the page's current location.
func (p *page) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return url, nil
}

// Visible reports whether an element matching the selector is rendered.
func (p *page) Visible(ctx context.Context, selector string) (bool, error) {
	const script = `(function(sel) {
		const el = document.querySelector(sel);
		if (!el) return false;
		const style = window.getComputedStyle(el);
		return style.display !== "none" && style.visibility !== "hidden" && el.offsetParent !== null;
	})(%q)`

	var visible bool
	if err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(script, selector), &visible)); err != nil {
		return false, fmt.Errorf("checking visibility of %s: %w", selector, err)
	}
	return visible, nil
}

// Fill sets the value of the input matching the selector.
func (p *page) Fill(ctx context.Context, selector, value string) error {
	err := p.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("filling %s: %w", selector, err)
	}
	return nil
}

// Click clicks the element matching the selector.
func (p *page) Click(ctx context.Context, selector string) error {
	if err := p.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("clicking %s: %w", selector, err)
	}
	return nil
}

// Text returns the trimmed text content of the first match.
func (p *page) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := p.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading text of %s: %w", selector, err)
	}
	return strings.TrimSpace(text), nil
}

// TextAll returns the trimmed text content of every match.
func (p *page) TextAll(ctx context.Context, selector string) ([]string, error) {
	const script = `Array.from(document.querySelectorAll(%q)).map(el => el.textContent.trim())`

	var texts []string
	if err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(script, selector), &texts)); err != nil {
		return nil, fmt.Errorf("reading texts of %s: %w", selector, err)
	}
	return texts, nil
}

// Screenshot captures the element matching the selector as PNG.
func (p *page) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.Screenshot(selector, &buf, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("capturing %s: %w", selector, err)
	}
	return buf, nil
}

// Close releases the underlying browser. Idempotent.
func (p *page) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = chromedp.Cancel(p.ctx)
		p.cancelTab()
		p.cancelAlloc()
	})
	return p.closeErr
}

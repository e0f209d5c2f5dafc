// Package browserpage implements the Page and PageFactory driven ports
// on top of chromedp. Each connector gets its own headless Chrome
// instance with a persistent user-data directory, so cookies survive
// process restarts and a warm profile can skip the login form entirely.
package browserpage

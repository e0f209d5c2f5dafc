// Package file provides a file-based implementation of the ConfigStore
// driven port. Configuration is persisted as TOML in the bankfeed config
// directory and read back with dot-notation keys (e.g. "tan.decoupled_phrases").
package file

// Package services contains the core orchestration logic: the
// connector registry with its per-id state machines, and file imports.
// Services depend only on domain types and ports, never on concrete
// adapters.
package services

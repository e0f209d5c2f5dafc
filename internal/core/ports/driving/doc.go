// Package driving defines the inbound ports: the interfaces the UI or
// orchestration layer calls. Implementations live in
// internal/core/services.
package driving

// Package driven defines the outbound ports: interfaces the core needs
// implemented by infrastructure (protocol adapters, stores, browser
// pages). Implementations live under internal/connectors and
// internal/adapters/driven.
package driven

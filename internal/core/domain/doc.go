// Package domain contains the core business entities for bankfeed.
// These types have no dependencies on infrastructure and represent the
// canonical shape every connector and parser must produce or consume.
package domain

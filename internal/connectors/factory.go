// Package connectors assembles the adapter families behind the factory
// port. The set of families is closed: adding one is a compile-time
// change here, not a runtime string registration.
package connectors

import (
	"fmt"

	"github.com/custodia-labs/bankfeed/internal/connectors/browser"
	"github.com/custodia-labs/bankfeed/internal/connectors/fints"
	"github.com/custodia-labs/bankfeed/internal/connectors/tokenapi"
	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
)

// Ensure Factory implements the interface.
var _ driven.AdapterFactory = (*Factory)(nil)

// TypeFinTS is the regulated banking dialog family.
const TypeFinTS = "fints"

// TypeTokenAPI is the mobile-bank-style token endpoint family.
const TypeTokenAPI = "tokenapi"

// TypeBrowser is the portal automation family.
const TypeBrowser = "browser"

// Factory builds adapter instances for the supported families.
type Factory struct {
	pages driven.PageFactory
}

// NewFactory creates the adapter factory. pages is required by the
// browser family; passing nil makes browser connectors fail to build.
func NewFactory(pages driven.PageFactory) *Factory {
	return &Factory{pages: pages}
}

// New creates an adapter for the connector.
func (f *Factory) New(connectorID, connectorType string, config map[string]string) (driven.BankAdapter, error) {
	switch connectorType {
	case TypeFinTS:
		return fints.New(connectorID, fints.ConfigFromMap(config)), nil

	case TypeTokenAPI:
		return tokenapi.New(connectorID, tokenapi.ConfigFromMap(config)), nil

	case TypeBrowser:
		if f.pages == nil {
			return nil, fmt.Errorf("%w: no browser runtime available", domain.ErrNotImplemented)
		}
		return browser.New(connectorID, browser.ConfigFromMap(config), f.pages), nil
	}
	return nil, fmt.Errorf("%w: connector type %q", domain.ErrUnsupportedType, connectorType)
}

// SupportedTypes lists the connector families this factory builds.
func (f *Factory) SupportedTypes() []domain.ConnectorType {
	return []domain.ConnectorType{
		fintsType(),
		tokenAPIType(),
		browserType(),
	}
}

func fintsType() domain.ConnectorType {
	return domain.ConnectorType{
		ID:          TypeFinTS,
		Name:        "Banking Dialog (FinTS/HBCI)",
		Description: "Fetch statements over the regulated banking dialog protocol",
		ConfigKeys: []domain.ConfigKey{
			{
				Key:         "endpoint",
				Label:       "Dialog Endpoint",
				Description: "The bank's dialog endpoint URL",
				Required:    true,
			},
			{
				Key:         "product_id",
				Label:       "Product ID",
				Description: "Client product registration identifier",
				Default:     "bankfeed",
			},
			{
				Key:         "tan_method",
				Label:       "TAN Method",
				Description: "Preferred second-factor method code (optional)",
			},
			{
				Key:         "decoupled_phrases",
				Label:       "Decoupled Phrases",
				Description: "Extra challenge-text phrases that mark decoupled TANs, comma separated",
			},
		},
	}
}

func tokenAPIType() domain.ConnectorType {
	return domain.ConnectorType{
		ID:          TypeTokenAPI,
		Name:        "Mobile Bank API",
		Description: "Fetch transactions through a token endpoint with asynchronous MFA",
		ConfigKeys: []domain.ConfigKey{
			{
				Key:         "base_url",
				Label:       "API Base URL",
				Description: "Root URL of the bank's API",
				Required:    true,
			},
			{
				Key:         "client_id",
				Label:       "Client ID",
				Description: "OAuth client identifier",
				Default:     "bankfeed",
			},
		},
	}
}

func browserType() domain.ConnectorType {
	return domain.ConnectorType{
		ID:          TypeBrowser,
		Name:        "Web Portal",
		Description: "Scrape transactions from a portal through a persistent browser session",
		ConfigKeys: []domain.ConfigKey{
			{
				Key:         "login_url",
				Label:       "Login URL",
				Description: "Where the portal's login form lives",
				Required:    true,
			},
			{
				Key:         "activity_url",
				Label:       "Activity URL",
				Description: "The transaction listing page",
				Required:    true,
			},
			{
				Key:         "activity_range_url",
				Label:       "Activity Range URL",
				Description: "URL template with {from}/{to} placeholders for date-filtered listings (optional)",
			},
			{
				Key:         "selector_logged_in",
				Label:       "Logged-in Selector",
				Description: "CSS selector override for the authenticated indicator (optional)",
			},
		},
	}
}

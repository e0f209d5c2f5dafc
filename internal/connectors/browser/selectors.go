package browser

// SelectorList is a prioritized list of alternative CSS selectors for
// one logical element. Portals rework their markup often; lookups try
// each alternative in order and use the first one that is visible, so
// minor drift costs a fallback instead of a broken adapter.
type SelectorList []string

// FieldSelectors maps every element the adapter touches to its
// alternatives. Connector configuration can override single fields for
// portals that diverge further.
type FieldSelectors struct {
	UsernameInput SelectorList
	PasswordInput SelectorList
	LoginSubmit   SelectorList

	// LoggedIn is the indicator that an authenticated session exists.
	// Checked on connect (warm-profile fast path) and re-checked before
	// every scrape.
	LoggedIn SelectorList

	MFAInput  SelectorList
	MFASubmit SelectorList
	// MFAImage is present for photo-TAN portals; a screenshot of it is
	// attached to the challenge.
	MFAImage SelectorList

	// Row cells are scraped as three parallel lists aligned by index.
	RowDate        SelectorList
	RowDescription SelectorList
	RowAmount      SelectorList

	LoadMore SelectorList
}

// DefaultSelectors covers the markup families seen across supported
// portals.
func DefaultSelectors() FieldSelectors {
	return FieldSelectors{
		UsernameInput: SelectorList{
			`input[name="username"]`,
			`input[name="user"]`,
			`input[type="email"]`,
			`#login-username`,
		},
		PasswordInput: SelectorList{
			`input[name="password"]`,
			`input[type="password"]`,
			`#login-password`,
		},
		LoginSubmit: SelectorList{
			`button[type="submit"]`,
			`input[type="submit"]`,
			`#login-button`,
		},
		LoggedIn: SelectorList{
			`[data-testid="account-overview"]`,
			`.dashboard-header`,
			`#logout-link`,
			`a[href*="logout"]`,
		},
		MFAInput: SelectorList{
			`input[name="tan"]`,
			`input[name="otp"]`,
			`input[autocomplete="one-time-code"]`,
			`#mfa-code`,
		},
		MFASubmit: SelectorList{
			`button[data-testid="mfa-submit"]`,
			`form.mfa button[type="submit"]`,
			`button[type="submit"]`,
		},
		MFAImage: SelectorList{
			`img.photo-tan`,
			`[data-testid="tan-image"] img`,
		},
		RowDate: SelectorList{
			`.transaction-row .date`,
			`tr.transaction td.booking-date`,
			`[data-testid="txn-date"]`,
		},
		RowDescription: SelectorList{
			`.transaction-row .description`,
			`tr.transaction td.purpose`,
			`[data-testid="txn-description"]`,
		},
		RowAmount: SelectorList{
			`.transaction-row .amount`,
			`tr.transaction td.amount`,
			`[data-testid="txn-amount"]`,
		},
		LoadMore: SelectorList{
			`button.load-more`,
			`[data-testid="show-more"]`,
			`a.pagination-next`,
		},
	}
}

// override replaces a list when the connector config sets a value.
func (l SelectorList) override(v string) SelectorList {
	if v == "" {
		return l
	}
	return SelectorList{v}
}

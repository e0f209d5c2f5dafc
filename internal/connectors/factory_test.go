package connectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
)

// stubPageFactory satisfies driven.PageFactory without a browser.
type stubPageFactory struct{}

func (stubPageFactory) Page(_ context.Context, _ string) (driven.Page, error) { return nil, nil }
func (stubPageFactory) Release(_ string) error                                { return nil }

func TestFactory_New_BuildsEachFamily(t *testing.T) {
	f := NewFactory(stubPageFactory{})

	for _, typ := range []string{TypeFinTS, TypeTokenAPI, TypeBrowser} {
		adapter, err := f.New("c1", typ, map[string]string{})
		require.NoError(t, err, typ)
		assert.NotNil(t, adapter, typ)
	}
}

func TestFactory_New_UnknownType(t *testing.T) {
	f := NewFactory(stubPageFactory{})

	_, err := f.New("c1", "carrier_pigeon", nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestFactory_New_BrowserWithoutRuntime(t *testing.T) {
	f := NewFactory(nil)

	_, err := f.New("c1", TypeBrowser, nil)
	assert.ErrorIs(t, err, domain.ErrNotImplemented)
}

func TestFactory_SupportedTypes(t *testing.T) {
	types := NewFactory(nil).SupportedTypes()

	require.Len(t, types, 3)
	ids := make([]string, 0, len(types))
	for _, typ := range types {
		ids = append(ids, typ.ID)
		assert.NotEmpty(t, typ.Description)
	}
	assert.Equal(t, []string{TypeFinTS, TypeTokenAPI, TypeBrowser}, ids)
}

func TestFactory_TypeConfigKeys_MarkRequired(t *testing.T) {
	required := map[string][]string{
		TypeFinTS:    {"endpoint"},
		TypeTokenAPI: {"base_url"},
		TypeBrowser:  {"login_url", "activity_url"},
	}

	for _, typ := range NewFactory(nil).SupportedTypes() {
		var got []string
		for _, key := range typ.ConfigKeys {
			if key.Required {
				got = append(got, key.Key)
			}
		}
		assert.Equal(t, required[typ.ID], got, typ.ID)
	}
}

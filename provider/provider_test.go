package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhome/hubauth/provider"
)

func TestNewRejectsMissingRequiredFields(t *testing.T) {
	_, err := provider.New(provider.Config{Name: "no type"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"type"`)

	_, err = provider.New(provider.Config{Type: provider.TypeStatic})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"name"`)
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := provider.New(provider.Config{Type: "saml", Name: "Corp"})
	assert.ErrorIs(t, err, provider.ErrUnknownType)
}

func TestTypesContainBuiltins(t *testing.T) {
	types := provider.Types()
	assert.Contains(t, types, provider.TypeStatic)
	assert.Contains(t, types, provider.TypeLocal)
	assert.Contains(t, types, provider.TypeLDAP)
}

func TestConfigFromMap(t *testing.T) {
	cfg := provider.ConfigFromMap(map[string]any{
		"type":  "static",
		"id":    "household",
		"name":  "Household",
		"users": []any{},
	})
	assert.Equal(t, "static", cfg.Type)
	assert.Equal(t, "household", cfg.ID)
	assert.Equal(t, "Household", cfg.Name)
	assert.Contains(t, cfg.Extra, "users")
	assert.NotContains(t, cfg.Extra, "type")
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "static", provider.Key{Type: "static"}.String())
	assert.Equal(t, "static.second", provider.Key{Type: "static", ID: "second"}.String())
}

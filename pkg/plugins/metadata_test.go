package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

func TestParseManifest(t *testing.T) {
	md, dropped, err := ParseManifest([]byte(`
id: icbc
name: ICBC Bank Integration
version: 1.2.0
author: Community
description: Connect to ICBC online banking
capabilities: [HOLDINGS, real_time, holdings, FAX]
supported_countries: [CN]
authentication_type: credentials
required_fields: [username, password]
icon_url: https://example.com/icon.png
`))
	require.NoError(t, err)
	assert.Equal(t, "icbc", md.ID)
	assert.Equal(t, []Capability{CapabilityHoldings, CapabilityRealTime}, md.Capabilities)
	assert.Equal(t, []string{"FAX"}, dropped)
	assert.Equal(t, AuthCredentials, md.AuthenticationType)
	assert.Equal(t, []string{"username", "password"}, md.RequiredFields)
	assert.Equal(t, "https://example.com/icon.png", md.IconURL)
	assert.True(t, md.HasCapability(CapabilityRealTime))
	assert.False(t, md.HasCapability(CapabilityTransfers))
}

func TestParseManifestMissingFields(t *testing.T) {
	_, _, err := ParseManifest([]byte("id: x\nname: X\nauthor: a\n"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePluginValidation))
	assert.Equal(t, "manifest missing required fields: version, description", err.Error())

	_, _, err = ParseManifest([]byte("id: [unterminated"))
	assert.True(t, errors.IsType(err, errors.ErrorTypePluginValidation))
}

func TestParseCapability(t *testing.T) {
	c, ok := ParseCapability(" statements ")
	assert.True(t, ok)
	assert.Equal(t, CapabilityStatements, c)

	_, ok = ParseCapability("telepathy")
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "discovered", StateDiscovered.String())
	assert.Equal(t, "instantiated", StateInstantiated.String())
	assert.Equal(t, "State(9)", State(9).String())
}

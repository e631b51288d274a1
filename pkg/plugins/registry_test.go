package plugins

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMetadata() []Metadata {
	return []Metadata{
		{ID: "icbc", Name: "ICBC", Capabilities: []Capability{CapabilityHoldings}, SupportedCountries: []string{"CN"}, AuthenticationType: AuthCredentials},
		{ID: "chase", Name: "Chase", Capabilities: []Capability{CapabilityHoldings, CapabilityTransactions}, SupportedCountries: []string{"US"}, AuthenticationType: AuthOAuth},
		{ID: "ally", Name: "Ally", Capabilities: []Capability{CapabilityBalances}, SupportedCountries: []string{"us"}, AuthenticationType: AuthAPIKey},
	}
}

func TestRegistryRegisterAndQuery(t *testing.T) {
	r := NewRegistry()
	for _, md := range sampleMetadata() {
		assert.True(t, r.Register(md))
	}
	assert.False(t, r.Register(Metadata{ID: "icbc", Name: "dup"}))
	assert.Equal(t, 3, r.Count())

	got, ok := r.Get("icbc")
	require.True(t, ok)
	assert.Equal(t, "ICBC", got.Name)

	ids := func(list []Metadata) []string {
		out := make([]string, len(list))
		for i, md := range list {
			out[i] = md.ID
		}
		return out
	}
	assert.Equal(t, []string{"ally", "chase", "icbc"}, ids(r.GetAll()))
	assert.Equal(t, []string{"chase", "icbc"}, ids(r.GetByCapability(CapabilityHoldings)))
	assert.Equal(t, []string{"ally", "chase"}, ids(r.GetByCountry("US")))
	assert.Equal(t, []string{"chase"}, ids(r.GetByAuthType(AuthOAuth)))
	assert.Empty(t, r.GetByCapability(CapabilityRealTime))
}

func TestRegistryReturnsCopies(t *testing.T) {
	r := NewRegistry()
	r.Register(sampleMetadata()[0])

	all := r.GetAll()
	all[0].Name = "mutated"
	all[0].SupportedCountries[0] = "XX"

	got, _ := r.Get("icbc")
	assert.Equal(t, "ICBC", got.Name)
	assert.Equal(t, []string{"CN"}, got.SupportedCountries)
}

func TestRegistryEnableDisable(t *testing.T) {
	r := NewRegistry()
	for _, md := range sampleMetadata() {
		r.Register(md)
	}

	assert.False(t, r.Enable("unknown"))
	assert.True(t, r.Enable("chase"))
	assert.True(t, r.Enable("icbc"))
	assert.True(t, r.IsEnabled("chase"))
	assert.Equal(t, 2, r.CountEnabled())
	assert.Equal(t, RegistryStats{Total: 3, Enabled: 2, Disabled: 1}, r.Stats())

	enabled := r.GetEnabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "chase", enabled[0].ID)

	assert.True(t, r.Disable("icbc"))
	assert.False(t, r.Disable("icbc"))
	assert.False(t, r.Disable("ally"))

	assert.True(t, r.Unregister("chase"))
	assert.False(t, r.Unregister("chase"))
	assert.False(t, r.IsEnabled("chase"))
	assert.Equal(t, 0, r.CountEnabled())

	r.Reset()
	assert.Equal(t, 0, r.Count())
}

func TestDefaultRegistryReset(t *testing.T) {
	ResetDefault()
	t.Cleanup(ResetDefault)

	a := DefaultRegistry()
	assert.Same(t, a, DefaultRegistry())
	a.Register(Metadata{ID: "x"})

	ResetDefault()
	b := DefaultRegistry()
	assert.NotSame(t, a, b)
	assert.Equal(t, 0, b.Count())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, md := range sampleMetadata() {
				r.Register(md)
				r.Enable(md.ID)
			}
		}()
		go func() {
			defer wg.Done()
			_ = r.GetAll()
			_ = r.GetEnabled()
			_ = r.Stats()
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, r.Count())
	assert.Equal(t, 3, r.CountEnabled())
}

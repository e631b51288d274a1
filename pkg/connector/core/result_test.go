package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/wealthsync/pkg/models"
)

func TestResultVariants(t *testing.T) {
	rows := Rows([]models.Holding{{Symbol: "BTC"}, {Symbol: "ETH"}})
	assert.True(t, rows.Supported())
	assert.False(t, rows.IsEmpty())
	assert.Equal(t, 2, rows.Len())
	assert.Equal(t, "ETH", rows.Rows()[1].Symbol)

	empty := Empty[models.Transaction]()
	assert.True(t, empty.Supported())
	assert.True(t, empty.IsEmpty())

	ns := NotSupported[models.Holding]()
	assert.False(t, ns.Supported())
	assert.True(t, ns.IsEmpty())
	assert.Nil(t, ns.Rows())
}

func TestStatusHelpers(t *testing.T) {
	assert.Equal(t, Status{OK: true, Message: "connected"}, StatusOK("connected"))
	assert.False(t, StatusFailed("down").OK)
}

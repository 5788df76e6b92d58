package buyer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeprojects/lead-auction-exchange/internal/domain/values"
)

func TestEffectiveBidRangeFallsBackToConfig(t *testing.T) {
	cfg := &ServiceConfig{
		MinBid: values.MustMoney("50.00"),
		MaxBid: values.MustMoney("300.00"),
	}
	z := &ZipCoverage{Priority: 100}

	assert.Equal(t, "50.00", z.EffectiveMinBid(cfg).String())
	assert.Equal(t, "300.00", z.EffectiveMaxBid(cfg).String())
}

func TestEffectiveBidRangeZipOverride(t *testing.T) {
	cfg := &ServiceConfig{
		MinBid: values.MustMoney("50.00"),
		MaxBid: values.MustMoney("300.00"),
	}
	minOverride := values.MustMoney("75.00")
	maxOverride := values.MustMoney("200.00")
	z := &ZipCoverage{Priority: 100, MinBid: &minOverride, MaxBid: &maxOverride}

	assert.Equal(t, "75.00", z.EffectiveMinBid(cfg).String())
	assert.Equal(t, "200.00", z.EffectiveMaxBid(cfg).String())
}

func TestServiceConfigValidate(t *testing.T) {
	valid := &ServiceConfig{
		MinBid:   values.MustMoney("50.00"),
		MaxBid:   values.MustMoney("300.00"),
		Priority: 5,
	}
	require.NoError(t, valid.Validate())

	inverted := &ServiceConfig{
		MinBid:   values.MustMoney("300.00"),
		MaxBid:   values.MustMoney("50.00"),
		Priority: 5,
	}
	assert.Error(t, inverted.Validate())

	badPriority := &ServiceConfig{
		MinBid:   values.MustMoney("50.00"),
		MaxBid:   values.MustMoney("300.00"),
		Priority: 11,
	}
	assert.Error(t, badPriority.Validate())
}

func TestZipCoverageValidate(t *testing.T) {
	require.NoError(t, (&ZipCoverage{Priority: 1000}).Validate())
	assert.Error(t, (&ZipCoverage{Priority: 0}).Validate())
	assert.Error(t, (&ZipCoverage{Priority: 1001}).Validate())

	min := values.MustMoney("200.00")
	max := values.MustMoney("100.00")
	assert.Error(t, (&ZipCoverage{Priority: 1, MinBid: &min, MaxBid: &max}).Validate())
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("contractor")
	require.NoError(t, err)
	assert.Equal(t, TypeContractor, typ)

	typ, err = ParseType("network")
	require.NoError(t, err)
	assert.Equal(t, TypeNetwork, typ)

	_, err = ParseType("reseller")
	assert.Error(t, err)
}

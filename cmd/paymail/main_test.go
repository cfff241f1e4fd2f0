package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsDefaultsToReport(t *testing.T) {
	opts, err := parseFlags(nil)
	require.NoError(t, err)
	assert.False(t, opts.monitor)
	assert.False(t, opts.check)
	assert.Empty(t, opts.deliverTo)
}

func TestParseFlagsManualDelivery(t *testing.T) {
	opts, err := parseFlags([]string{"--deliver", " buyer@test.com ", "--amount", "25.00"})
	require.NoError(t, err)
	assert.Equal(t, "buyer@test.com", opts.deliverTo)
	assert.Equal(t, "25.00", opts.amount)
}

func TestParseFlagsRejectsConflictingModes(t *testing.T) {
	_, err := parseFlags([]string{"--monitor", "--check"})
	assert.ErrorIs(t, err, errConflictingModes)
}

func TestParseFlagsAmountNeedsDeliver(t *testing.T) {
	_, err := parseFlags([]string{"--amount", "5"})
	assert.Error(t, err)
}

package builderstate

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_DefaultsAreConsistent(t *testing.T) {
	// Given
	cfg := Config{}
	cfg.RegisterFlagsAndApplyDefaults("builder", &flag.FlagSet{})

	// Then
	require.NoError(t, cfg.Validate())
}

func TestConfig_ValidateRejectsBusyBelowFree(t *testing.T) {
	// Given
	cfg := Config{ConnectionName: "trb-0", BusyThreshold: 5, FreeThreshold: 10}

	// When
	err := cfg.Validate()

	// Then
	require.Error(t, err)
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetTracks(t *testing.T) {
	assert.Equal(t, 12, targetTracks(MixtapeRequest{}))
	assert.Equal(t, 8, targetTracks(MixtapeRequest{Count: 8}))
	assert.Equal(t, 30, targetTracks(MixtapeRequest{Count: 99}))

	// duration mode estimates one track per four minutes
	assert.Equal(t, 15, targetTracks(MixtapeRequest{Mode: "duration", DurationMin: 60}))
	assert.Equal(t, 30, targetTracks(MixtapeRequest{Mode: "duration", DurationMin: 600}))
	assert.Equal(t, 1, targetTracks(MixtapeRequest{Mode: "duration", DurationMin: 3}))
}

func TestEnvTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "on", " true "} {
		assert.True(t, envTruthy(v), v)
	}
	// unset or anything unrecognized stays off
	for _, v := range []string{"", "0", "false", "no", "enable"} {
		assert.False(t, envTruthy(v), v)
	}
}

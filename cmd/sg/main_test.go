package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetrics(t *testing.T) {
	m, err := parseMetrics([]string{"estimatedCost=30000", "urgent=true", "region=emea", "ratio = 0.5"})
	require.NoError(t, err)
	assert.Equal(t, 30000.0, m["estimatedCost"])
	assert.Equal(t, true, m["urgent"])
	assert.Equal(t, "emea", m["region"])
	assert.Equal(t, 0.5, m["ratio"])

	_, err = parseMetrics([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseMetrics([]string{"=1"})
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	registerCommands()
	for _, path := range [][]string{
		{"serve"},
		{"route"},
		{"entities", "validate"},
		{"pipeline", "approve"},
		{"documents", "ack"},
		{"log", "tail"},
		{"auth", "token"},
		{"config", "init"},
		{"db", "status"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

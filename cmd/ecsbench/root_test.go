package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/argus-labs/ecsdb/pkg/ecsdb"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunChurn(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger := zerolog.Nop()
	opts := churnOptions{workers: 3, entities: 50, iterations: 4, repack: true, dump: true}
	require.NoError(t, runChurn(context.Background(), &logger, opts, &out))

	var stats ecsdb.WorldStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.Equal(t, 3*25, stats.Entities)
}

func TestRunChurn_InvalidOptions(t *testing.T) {
	t.Parallel()

	logger := zerolog.Nop()
	err := runChurn(context.Background(), &logger, churnOptions{workers: 0, entities: 1}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestRootCmd_HasChurn(t *testing.T) {
	t.Parallel()

	cmd, _, err := NewRootCmd().Find([]string{"churn"})
	require.NoError(t, err)
	assert.Equal(t, "churn", cmd.Name())
}

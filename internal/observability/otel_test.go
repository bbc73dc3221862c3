package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false, Exporter: "bogus"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitUnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, Exporter: "bogus"})
	assert.Error(t, err)
}

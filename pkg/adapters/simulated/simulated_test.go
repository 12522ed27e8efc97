package simulated

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerform_SearchReturnsProfiles(t *testing.T) {
	factory := NewFactory("discovery")
	assert.Equal(t, "discovery", factory.Platform())

	adapter, err := factory.Create(nil, slog.Default())
	require.NoError(t, err)

	data, err := adapter.Perform(context.Background(), "search", nil)
	require.NoError(t, err)

	assert.Equal(t, true, data["simulated"])
	assert.Equal(t, "discovery", data["platform"])
	assert.NotEmpty(t, data["profiles"])
}

func TestPerform_EchoesMessage(t *testing.T) {
	adapter, err := NewFactory("linkedin").Create(nil, slog.Default())
	require.NoError(t, err)

	data, err := adapter.Perform(context.Background(), "message", map[string]any{
		"message": "Hi Grace, great to connect!",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Grace, great to connect!", data["message"])
}

func TestPerform_HonorsCancelledContext(t *testing.T) {
	adapter, err := NewFactory("twitter").Create(nil, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = adapter.Perform(ctx, "follow", nil)
	require.Error(t, err)
}

package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchcore/internal/domain"
)

func TestManualSinkResolveDeliversCookies(t *testing.T) {
	sink := NewManualSink()
	handle, err := sink.RequestIntervention(context.Background(), InterventionRequest{
		BlockerType: domain.BlockerCaptcha,
		URL:         "https://vendor.example/shop",
		SessionID:   "sess-1",
	})
	require.NoError(t, err)

	pending := sink.Pending()
	require.Len(t, pending, 1)
	id := pending[0].ID
	require.NotEmpty(t, id)

	go func() {
		time.Sleep(10 * time.Millisecond)
		sink.Resolve(id, InterventionResolution{
			Resolved: true,
			Cookies:  []Cookie{{Name: "cf_clearance", Value: "token", Domain: "vendor.example"}},
		})
	}()

	res, err := handle.WaitForResolution(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	require.Len(t, res.Cookies, 1)
	assert.Equal(t, "cf_clearance", res.Cookies[0].Name)
	assert.Empty(t, sink.Pending(), "resolved intervention should leave the pending list")
}

func TestManualSinkWaitTimesOut(t *testing.T) {
	sink := NewManualSink()
	handle, err := sink.RequestIntervention(context.Background(), InterventionRequest{
		BlockerType: domain.BlockerBotDetection,
		URL:         "https://vendor.example",
	})
	require.NoError(t, err)

	_, err = handle.WaitForResolution(context.Background(), 10*time.Millisecond)
	assert.Error(t, err)
}

func TestManualSinkWaitHonorsContextCancellation(t *testing.T) {
	sink := NewManualSink()
	handle, err := sink.RequestIntervention(context.Background(), InterventionRequest{URL: "https://x.example"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = handle.WaitForResolution(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManualSinkResolveUnknownIDReturnsFalse(t *testing.T) {
	sink := NewManualSink()
	assert.False(t, sink.Resolve("nope", InterventionResolution{Resolved: true}))
}

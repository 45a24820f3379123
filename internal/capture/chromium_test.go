package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	o := Options{URL: "http://127.0.0.1:3000/"}
	require.NoError(t, o.normalize())
	assert.Equal(t, 1600, o.Width)
	assert.Equal(t, 1200, o.Height)
	assert.Equal(t, DefaultTimeout, o.Timeout)

	o = Options{URL: "http://x/", Width: 800, Height: 480, Timeout: time.Second}
	require.NoError(t, o.normalize())
	assert.Equal(t, 800, o.Width)
	assert.Equal(t, 480, o.Height)
	assert.Equal(t, time.Second, o.Timeout)
}

func TestTasksWaitReady(t *testing.T) {
	var png []byte
	o := Options{URL: "http://x/"}
	require.NoError(t, o.normalize())
	assert.Len(t, o.tasks(&png), 4)

	o.WaitReady = true
	assert.Len(t, o.tasks(&png), 5)
}

func TestCapturePNGRequiresURL(t *testing.T) {
	_, err := CapturePNG(context.Background(), Options{})
	assert.ErrorContains(t, err, "URL is required")
}

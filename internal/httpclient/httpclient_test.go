package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Timeouts(t *testing.T) {
	c := New(3 * time.Minute)
	assert.Equal(t, 3*time.Minute, c.Timeout)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 3*time.Minute, tr.ResponseHeaderTimeout)
	assert.NotNil(t, tr.Proxy)
}

func TestNew_DefaultTimeout(t *testing.T) {
	assert.Equal(t, defaultTimeout, New(0).Timeout)
	assert.Equal(t, defaultTimeout, New(-time.Second).Timeout)
}

func TestNew_SeparatePools(t *testing.T) {
	a, b := New(time.Second), New(time.Second)
	assert.NotSame(t, a.Transport, b.Transport)
}

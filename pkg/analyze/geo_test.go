package analyze

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocateRejectsPrivateAndLoopbackAddresses(t *testing.T) {
	c := NewGeolocationClient(nil, "", "", time.Second)

	_, err := c.Locate(context.Background(), "10.0.0.5")
	require.True(t, errors.Is(err, ErrPrivateIP))

	_, err = c.Locate(context.Background(), "127.0.0.1")
	require.True(t, errors.Is(err, ErrPrivateIP))

	_, err = c.Locate(context.Background(), "169.254.1.1")
	require.True(t, errors.Is(err, ErrPrivateIP))
}

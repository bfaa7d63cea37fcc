package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-engine/internal/errs"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("s3cret", 42, "CUSTOMER", time.Hour)
	require.NoError(t, err)

	claims, err := ParseAccessToken("s3cret", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "CUSTOMER", claims.Role)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
}

func TestParseAccessTokenRejects(t *testing.T) {
	tok, err := NewAccessToken("s3cret", 42, "CUSTOMER", time.Hour)
	require.NoError(t, err)
	_, err = ParseAccessToken("other", tok.Token)
	assert.True(t, errs.Is(err, ErrInvalidToken))

	expired, err := NewAccessToken("s3cret", 42, "CUSTOMER", -time.Minute)
	require.NoError(t, err)
	_, err = ParseAccessToken("s3cret", expired.Token)
	assert.True(t, errs.Is(err, ErrInvalidToken))

	_, err = ParseAccessToken("s3cret", "not-a-jwt")
	assert.True(t, errs.Is(err, ErrInvalidToken))
}

func TestClaimsUserID(t *testing.T) {
	c := &Claims{}
	c.Subject = "abc"
	_, err := c.UserID()
	assert.True(t, errs.Is(err, ErrInvalidToken))
}

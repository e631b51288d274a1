package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/testutil"
)

func TestHTTPClientGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"symbol":"BTC","price":"60000.5"}`))
		case "/auth":
			w.WriteHeader(http.StatusUnauthorized)
		case "/limited":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		case "/garbage":
			_, _ = w.Write([]byte("not json"))
		}
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.CircuitBreakerEnabled = false
	c := NewHTTPClient("test", cfg, testutil.TestLogger(t))
	ctx := context.Background()

	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	require.NoError(t, c.GetJSON(ctx, srv.URL+"/ok", map[string]string{"X-API-Key": "secret"}, &out))
	assert.Equal(t, "BTC", out.Symbol)

	err := c.GetJSON(ctx, srv.URL+"/auth", nil, &out)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))

	err = c.GetJSON(ctx, srv.URL+"/limited", nil, &out)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimit))
	d, ok := errors.RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	err = c.GetJSON(ctx, srv.URL+"/broken", nil, &out)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataFetch))
	assert.Contains(t, err.Error(), "HTTP 502: upstream down")
	assert.Contains(t, err.Error(), "endpoint=/broken")

	err = c.GetJSON(ctx, srv.URL+"/garbage", nil, &out)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataFetch))

	assert.Equal(t, int64(5), c.GetStats().TotalRequests)
}

func TestHTTPClientConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient("gone", nil, nil)
	err := c.GetJSON(context.Background(), url+"/x", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, ParseRetryAfter("30"))
	assert.Zero(t, ParseRetryAfter(""))
	assert.Zero(t, ParseRetryAfter("soon"))
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	assert.Greater(t, ParseRetryAfter(future), 50*time.Minute)
}

func TestCircuitBreaker(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute, Clock: clock}, nil)

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	clock.Advance(time.Minute)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe while half-open")

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestOAuth2ClientCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	oc, err := NewOAuth2Client(context.Background(), &OAuth2Config{
		GrantType:    GrantClientCredentials,
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/token",
	}, srv.Client(), nil)
	require.NoError(t, err)

	tok, err := oc.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.AccessToken)

	_, err = oc.Token()
	require.NoError(t, err)
	assert.Equal(t, int64(2), oc.GetStats().TokenRequests)
}

func TestOAuth2ConfigValidation(t *testing.T) {
	_, err := NewOAuth2Client(context.Background(), &OAuth2Config{GrantType: GrantClientCredentials}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[client_id, client_secret, token_url]")

	_, err = NewOAuth2Client(context.Background(), &OAuth2Config{GrantType: "device"}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	oc, err := NewOAuth2Client(context.Background(), &OAuth2Config{AccessToken: "jwt"}, nil, nil)
	require.NoError(t, err)
	tok, err := oc.Token()
	require.NoError(t, err)
	assert.Equal(t, "jwt", tok.AccessToken)
}

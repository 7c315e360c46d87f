package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(`<html><body><div class="card"><a href="/imovel/1">Casa</a></div></body></html>`))
	}))
	defer srv.Close()

	f := NewDirectFetcher(5 * time.Second)
	res, err := f.Fetch(context.Background(), srv.URL, Hints{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, TierDirect, res.Tier)
	assert.Contains(t, string(res.Body), "imovel")
}

func TestDirectFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewDirectFetcher(5 * time.Second)
	_, err := f.Fetch(context.Background(), srv.URL, Hints{})
	require.Error(t, err)

	var rl *rateLimitError
	assert.True(t, errors.As(err, &rl))
}

func TestDirectFetchForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewDirectFetcher(5 * time.Second)
	_, err := f.Fetch(context.Background(), srv.URL, Hints{})
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindForbidden, fe.Kind)
}

func TestDirectFetchBotChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html><title>Just a moment...</title></html>`))
	}))
	defer srv.Close()

	f := NewDirectFetcher(5 * time.Second)
	_, err := f.Fetch(context.Background(), srv.URL, Hints{})
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindBotChallenge, fe.Kind)
}

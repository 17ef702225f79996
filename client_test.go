package kvguard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestHTTPStoreRoundtrip(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(NewStoreHandler(NewMemStore("r0")))
	defer srv.Close()

	ctx := context.Background()
	s, err := NewHTTPStore("r0", srv.URL, time.Second)
	require.NoError(t, err)
	require.Equal(t, "r0", s.Name())

	require.NoError(t, s.Put(ctx, "k", FormatValue(0), "w0"))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, Written{OpID: "w0", Value: FormatValue(0)}, got)

	got, err = s.CompareAndSwap(ctx, "k", "w0", FormatValue(1), "w1")
	require.NoError(t, err)
	require.Equal(t, "w1", got.OpID)

	// lost race reports the current holder
	got, err = s.CompareAndSwap(ctx, "k", "w0", FormatValue(2), "w2")
	require.NoError(t, err)
	require.Equal(t, "w1", got.OpID)
}

func TestHTTPStoreRejection(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(NewStoreHandler(NewMemStore("r0")))
	defer srv.Close()

	s, err := NewHTTPStore("r0", srv.URL, time.Second)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "missing")
	require.True(t, errors.Is(err, ErrCanceled))
	require.False(t, errors.Is(err, ErrTimeout))
}

func TestHTTPStoreTimeout(t *testing.T) {
	t.Parallel()
	stall := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-stall
	}))
	defer srv.Close()
	defer close(stall)

	s, err := NewHTTPStore("r0", srv.URL, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "k")
	require.True(t, errors.Is(err, ErrTimeout))
	require.False(t, errors.Is(err, ErrCanceled))
}

package rpcpool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func fakeProvider(t *testing.T, result string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
}

func TestPoolCall_AgreesOnMajority(t *testing.T) {
	s1 := fakeProvider(t, `"0x1"`)
	s2 := fakeProvider(t, `"0x1"`)
	s3 := fakeProvider(t, `"0x2"`)
	defer s1.Close()
	defer s2.Close()
	defer s3.Close()

	pool := New([]string{s1.URL, s2.URL, s3.URL}, zerolog.Nop())
	defer pool.Close()

	raw, err := pool.Call(context.Background(), "eth_blockNumber")
	require.NoError(t, err)
	require.Equal(t, `"0x1"`, string(raw))
}

func TestPoolCall_NoConsensusWhenAllDisagree(t *testing.T) {
	s1 := fakeProvider(t, `"0x1"`)
	s2 := fakeProvider(t, `"0x2"`)
	s3 := fakeProvider(t, `"0x3"`)
	defer s1.Close()
	defer s2.Close()
	defer s3.Close()

	pool := New([]string{s1.URL, s2.URL, s3.URL}, zerolog.Nop())
	defer pool.Close()

	_, err := pool.Call(context.Background(), "eth_blockNumber")
	require.Error(t, err)
}

func TestReshuffle_ZeroesScoresAndPreservesEndpointSet(t *testing.T) {
	s1 := fakeProvider(t, `"0x1"`)
	s2 := fakeProvider(t, `"0x2"`)
	s3 := fakeProvider(t, `"0x3"`)
	defer s1.Close()
	defer s2.Close()
	defer s3.Close()

	pool := New([]string{s1.URL, s2.URL, s3.URL}, zerolog.Nop())
	defer pool.Close()

	pool.adjustScore(s1.URL, 5)
	pool.adjustScore(s2.URL, -3)

	before := make(map[string]bool)
	for _, pr := range pool.RankedEndpoints() {
		before[pr.Endpoint] = true
	}

	require.NoError(t, pool.Reshuffle())

	ranked := pool.RankedEndpoints()
	require.Len(t, ranked, 3)
	after := make(map[string]bool)
	for _, pr := range ranked {
		require.Equal(t, int64(0), pr.Score)
		after[pr.Endpoint] = true
	}
	require.Equal(t, before, after)
}

func TestRankedEndpoints_ReflectsScoreAdjustments(t *testing.T) {
	s1 := fakeProvider(t, `"0x1"`)
	s2 := fakeProvider(t, `"0x1"`)
	defer s1.Close()
	defer s2.Close()

	pool := New([]string{s1.URL, s2.URL}, zerolog.Nop())
	defer pool.Close()

	_, err := pool.Call(context.Background(), "eth_blockNumber")
	require.NoError(t, err)

	for _, pr := range pool.RankedEndpoints() {
		require.GreaterOrEqual(t, pr.Score, int64(0))
	}
}

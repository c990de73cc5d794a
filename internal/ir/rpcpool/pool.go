// Package rpcpool implements multi-provider JSON-RPC calls with
// reputation-weighted provider ordering and consensus validation. A single
// logical call is fanned out to several configured endpoints and accepted
// only once enough of them return byte-identical decoded results.
package rpcpool

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sort"
	"sync"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/liquity/ir-manager/internal/ir/constants"
	"github.com/liquity/ir-manager/internal/ir/ierrors"
)

// limitedBodyTransport caps the number of bytes read from each response
// body, giving the pool the adaptive max_response_bytes budget the
// consensus loop doubles on retry.
type limitedBodyTransport struct {
	base     http.RoundTripper
	maxBytes int64
}

func (t *limitedBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, t.maxBytes), resp.Body}
	return resp, nil
}

// provider is one configured RPC endpoint and its running reputation.
type provider struct {
	endpoint string
	score    int64
	maxBytes int64
	client   *gethrpc.Client
}

// dial builds (or rebuilds) the provider's underlying rpc.Client with a
// transport capped at the given response size.
func (p *provider) dial(maxBytes int64) error {
	if p.client != nil && p.maxBytes == maxBytes {
		return nil
	}
	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &limitedBodyTransport{base: http.DefaultTransport, maxBytes: maxBytes},
	}
	client, err := gethrpc.DialHTTPWithClient(p.endpoint, httpClient)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.endpoint, err)
	}
	if p.client != nil {
		p.client.Close()
	}
	p.client = client
	p.maxBytes = maxBytes
	return nil
}

// Pool is an ordered set of JSON-RPC providers, consulted with k-of-n
// consensus and reputation-driven ordering.
type Pool struct {
	mu        sync.Mutex
	providers []*provider
	logger    zerolog.Logger
}

// New builds a Pool over the given endpoints, each given a dedicated
// rpc.Client/http.Client pair so one slow provider cannot stall another's
// transport.
func New(endpoints []string, logger zerolog.Logger) *Pool {
	p := &Pool{logger: logger.With().Str("component", "rpcpool").Logger()}
	for _, ep := range endpoints {
		p.providers = append(p.providers, &provider{endpoint: ep})
	}
	return p
}

// rankedProviders returns the current provider list ordered by descending
// score, truncated to ProviderCount entries.
func (p *Pool) rankedProviders() []*provider {
	ranked := make([]*provider, len(p.providers))
	copy(ranked, p.providers)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > constants.ProviderCount {
		ranked = ranked[:constants.ProviderCount]
	}
	return ranked
}

// ProviderReputation is a read-only snapshot of one provider's standing.
type ProviderReputation struct {
	Endpoint string
	Score    int64
}

// RankedEndpoints exposes the current reputation-ordered provider list for
// read-only introspection (the GetRankedProvidersList operation).
func (p *Pool) RankedEndpoints() []ProviderReputation {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ProviderReputation, 0, len(p.providers))
	for _, pr := range p.rankedProviders() {
		out = append(out, ProviderReputation{Endpoint: pr.endpoint, Score: pr.score})
	}
	return out
}

func (p *Pool) adjustScore(endpoint string, delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pr := range p.providers {
		if pr.endpoint == endpoint {
			pr.score += delta
			if pr.score > constants.ProviderScoreMax {
				pr.score = constants.ProviderScoreMax
			}
			if pr.score < constants.ProviderScoreMin {
				pr.score = constants.ProviderScoreMin
			}
			return
		}
	}
}

// consensusResult is one provider's outcome for a single attempt.
type consensusResult struct {
	provider *provider
	result   json.RawMessage
	err      error
}

// Call performs a consensus JSON-RPC call: it issues method(params) against
// the top-ranked providers and accepts the result once at least k of them
// agree byte-for-byte. On disagreement or insufficient successes it doubles
// the response-size budget up to MaxResponseBytes and retries; if that
// still fails, it relaxes k to ProviderMinThreshold before giving up with
// NoConsensus.
func (p *Pool) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	k := constants.ProviderThreshold
	maxBytes := int64(constants.InitialResponseBytes)

	var lastDetail string
	for {
		result, err := p.attempt(ctx, method, params, k, maxBytes)
		if err == nil {
			return result, nil
		}
		lastDetail = err.Error()

		if maxBytes < constants.MaxResponseBytes {
			maxBytes *= 2
			if maxBytes > constants.MaxResponseBytes {
				maxBytes = constants.MaxResponseBytes
			}
			continue
		}
		if k > constants.ProviderMinThreshold {
			k = constants.ProviderMinThreshold
			maxBytes = int64(constants.InitialResponseBytes)
			continue
		}
		return nil, ierrors.NoConsensus(fmt.Sprintf("%s: %s", method, lastDetail))
	}
}

// attempt issues one round of the call against ranked providers and scores
// contributions, returning the majority result once at least k providers
// agree.
func (p *Pool) attempt(ctx context.Context, method string, params []interface{}, k int, maxBytes int64) (json.RawMessage, error) {
	p.mu.Lock()
	ranked := p.rankedProviders()
	p.mu.Unlock()

	if len(ranked) < k {
		return nil, fmt.Errorf("only %d providers configured, need %d", len(ranked), k)
	}

	results := make([]consensusResult, len(ranked))
	var wg sync.WaitGroup
	for i, pr := range ranked {
		wg.Add(1)
		go func(i int, pr *provider) {
			defer wg.Done()
			if err := pr.dial(maxBytes); err != nil {
				results[i] = consensusResult{provider: pr, err: err}
				return
			}
			var raw json.RawMessage
			err := pr.client.CallContext(ctx, &raw, method, params...)
			results[i] = consensusResult{provider: pr, result: raw, err: err}
		}(i, pr)
	}
	wg.Wait()

	tally := map[string]int{}
	for _, r := range results {
		if r.err != nil {
			p.logger.Debug().Str("endpoint", r.provider.endpoint).Err(r.err).Str("method", method).Msg("provider call failed")
			p.adjustScore(r.provider.endpoint, -1)
			continue
		}
		tally[string(r.result)]++
	}

	var winner string
	var winnerCount int
	for raw, count := range tally {
		if count > winnerCount {
			winner = raw
			winnerCount = count
		}
	}

	if winnerCount < k {
		p.demoteLowestScore()
		return nil, fmt.Errorf("only %d/%d providers agreed (need %d)", winnerCount, len(ranked), k)
	}

	for _, r := range results {
		if r.err == nil && string(r.result) == winner {
			p.adjustScore(r.provider.endpoint, 1)
		} else if r.err == nil {
			p.adjustScore(r.provider.endpoint, -1)
		}
	}

	return json.RawMessage(winner), nil
}

// demoteLowestScore pushes the lowest-scored provider to the back of the
// provider list, implementing the pool's deterministic rotation on
// repeated disagreement.
func (p *Pool) demoteLowestScore() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.providers) < 2 {
		return
	}
	lowestIdx := 0
	for i, pr := range p.providers {
		if pr.score < p.providers[lowestIdx].score {
			lowestIdx = i
		}
	}
	lowest := p.providers[lowestIdx]
	p.providers = append(p.providers[:lowestIdx], p.providers[lowestIdx+1:]...)
	p.providers = append(p.providers, lowest)
}

// Reshuffle resets every provider's score to zero and randomizes order
// using a CSPRNG-seeded Fisher-Yates shuffle, used by the daily cleanup
// cycle to erase accumulated reputation bias.
func (p *Pool) Reshuffle() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.providers)
	for i := n - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("reshuffle providers: %w", err)
		}
		j := int(jBig.Int64())
		p.providers[i], p.providers[j] = p.providers[j], p.providers[i]
	}
	for _, pr := range p.providers {
		pr.score = 0
	}
	return nil
}

// Close releases every provider's underlying rpc.Client connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pr := range p.providers {
		if pr.client != nil {
			pr.client.Close()
		}
	}
}

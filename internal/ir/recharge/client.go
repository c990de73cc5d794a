// Package recharge implements the agent's two self-funding duties: a
// periodic ckETH mint cycle that tops up the ledger balance from strategy
// EOAs, and an on-demand cycles<->ckETH swap that lets a caller trade
// compute credits for ckETH at a discount. Grounded on
// original_source/ir_manager/src/charger.rs's round-robin EOA rotation and
// threshold-triggered recharge, reimplemented with EVM transactions instead
// of IC inter-canister calls.
package recharge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// LedgerClient is the narrow boundary to the ckETH ledger: the balance the
// mint cycle checks, and the transfer the swap path executes. Backed by a
// plain JSON-over-HTTP call; there is no ICRC1/IC-ledger Go client in the
// example pack to wire here (see DESIGN.md).
type LedgerClient interface {
	Balance(ctx context.Context) (*big.Int, error)
	Transfer(ctx context.Context, recipient string, amount *big.Int) (*big.Int, error)
}

// ExchangeRateClient is the narrow boundary to the ETH/XDR-equivalent rate
// oracle the swap path prices against.
type ExchangeRateClient interface {
	// Rate returns the current exchange rate as e8-scaled ETH per
	// XDR-equivalent unit.
	Rate(ctx context.Context) (*big.Int, error)
}

// httpLedgerClient is a minimal JSON-over-HTTP LedgerClient, logging on
// call failure the way the teacher's messenger logs on broadcast failure.
type httpLedgerClient struct {
	endpoint string
	client   *http.Client
	log      zerolog.Logger
}

// NewHTTPLedgerClient builds a LedgerClient backed by a plain HTTP JSON API
// at endpoint.
func NewHTTPLedgerClient(endpoint string, log zerolog.Logger) LedgerClient {
	return &httpLedgerClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		log:      log.With().Str("component", "ledger-client").Logger(),
	}
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

func (c *httpLedgerClient) Balance(ctx context.Context) (*big.Int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/balance", nil)
	if err != nil {
		return nil, fmt.Errorf("build balance request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Error().Err(err).Msg("ledger balance call failed")
		return nil, fmt.Errorf("ledger balance call: %w", err)
	}
	defer resp.Body.Close()

	var out balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode balance response: %w", err)
	}
	balance, ok := new(big.Int).SetString(out.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("decode balance response: invalid integer %q", out.Balance)
	}
	return balance, nil
}

type transferRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type transferResponse struct {
	Transferred string `json:"transferred"`
}

func (c *httpLedgerClient) Transfer(ctx context.Context, recipient string, amount *big.Int) (*big.Int, error) {
	body, err := json.Marshal(transferRequest{Recipient: recipient, Amount: amount.String()})
	if err != nil {
		return nil, fmt.Errorf("encode transfer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/transfer", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("recipient", recipient).Msg("ledger transfer call failed")
		return nil, fmt.Errorf("ledger transfer call: %w", err)
	}
	defer resp.Body.Close()

	var out transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode transfer response: %w", err)
	}
	transferred, ok := new(big.Int).SetString(out.Transferred, 10)
	if !ok {
		return nil, fmt.Errorf("decode transfer response: invalid integer %q", out.Transferred)
	}
	return transferred, nil
}

type httpExchangeRateClient struct {
	endpoint string
	client   *http.Client
	log      zerolog.Logger
}

// NewHTTPExchangeRateClient builds an ExchangeRateClient backed by a plain
// HTTP JSON API at endpoint.
func NewHTTPExchangeRateClient(endpoint string, log zerolog.Logger) ExchangeRateClient {
	return &httpExchangeRateClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		log:      log.With().Str("component", "exchange-rate-client").Logger(),
	}
}

type rateResponse struct {
	RateE8 string `json:"rate_e8"`
}

func (c *httpExchangeRateClient) Rate(ctx context.Context) (*big.Int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/rate", nil)
	if err != nil {
		return nil, fmt.Errorf("build rate request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Error().Err(err).Msg("exchange rate call failed")
		return nil, fmt.Errorf("exchange rate call: %w", err)
	}
	defer resp.Body.Close()

	var out rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rate response: %w", err)
	}
	rate, ok := new(big.Int).SetString(out.RateE8, 10)
	if !ok {
		return nil, fmt.Errorf("decode rate response: invalid integer %q", out.RateE8)
	}
	return rate, nil
}

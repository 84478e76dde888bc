package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"starkagent/pkg/fault"
	"starkagent/pkg/skills"
)

// upstreamRateLimited carries a 429 retry hint into the dispatcher's
// cooldown bookkeeping.
type upstreamRateLimited struct {
	endpoint string
	wait     time.Duration
}

func (e *upstreamRateLimited) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s", e.endpoint, e.wait)
}

func (e *upstreamRateLimited) RetryAfter() time.Duration { return e.wait }

// retryAfterHint parses a Retry-After header, zero when absent or unreadable.
func retryAfterHint(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// coinGeckoIDs maps ticker symbols to CoinGecko identifiers for the tokens
// the platform watches.
var coinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"STRK": "starknet",
	"USDC": "usd-coin",
	"USDT": "tether",
	"SOL":  "solana",
}

// coinGeckoEndpoint serves get_price from the CoinGecko simple-price API.
type coinGeckoEndpoint struct {
	client  *http.Client
	baseURL string
}

func newCoinGeckoEndpoint(client *http.Client) *coinGeckoEndpoint {
	return &coinGeckoEndpoint{client: client, baseURL: "https://api.coingecko.com/api/v3"}
}

func (e *coinGeckoEndpoint) Name() string { return "coingecko" }

func (e *coinGeckoEndpoint) Call(ctx context.Context, method string, args map[string]any) (any, error) {
	if method != skills.MethodGetPrice {
		return nil, fault.New(fault.KindNotFound, "dispatch", "coingecko does not serve %s", method)
	}
	token, _ := args["token"].(string)
	id, ok := coinGeckoIDs[strings.ToUpper(token)]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "dispatch", "no coingecko id for token %q", token)
	}

	query := url.Values{
		"ids":                 {id},
		"vs_currencies":       {"usd"},
		"include_24hr_change": {"true"},
		"include_24hr_vol":    {"true"},
	}
	body, err := e.get(ctx, e.baseURL+"/simple/price?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var payload map[string]struct {
		USD       float64 `json:"usd"`
		Change24h float64 `json:"usd_24h_change"`
		Volume24h float64 `json:"usd_24h_vol"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("coingecko returned unparseable body: %w", err)
	}
	quote, ok := payload[id]
	if !ok {
		return nil, fmt.Errorf("coingecko response missing %s", id)
	}
	return map[string]any{
		"price_usd":  quote.USD,
		"change_24h": quote.Change24h,
		"volume_usd": quote.Volume24h,
	}, nil
}

func (e *coinGeckoEndpoint) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfterHint(resp)
		return nil, &upstreamRateLimited{endpoint: e.Name(), wait: wait}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// dexScreenerEndpoint serves get_price from the DexScreener pair search API.
type dexScreenerEndpoint struct {
	client  *http.Client
	baseURL string
}

func newDexScreenerEndpoint(client *http.Client) *dexScreenerEndpoint {
	return &dexScreenerEndpoint{client: client, baseURL: "https://api.dexscreener.com/latest/dex"}
}

func (e *dexScreenerEndpoint) Name() string { return "dexscreener" }

func (e *dexScreenerEndpoint) Call(ctx context.Context, method string, args map[string]any) (any, error) {
	if method != skills.MethodGetPrice {
		return nil, fault.New(fault.KindNotFound, "dispatch", "dexscreener does not serve %s", method)
	}
	token, _ := args["token"].(string)
	if token == "" {
		return nil, fault.New(fault.KindUsage, "dispatch", "get_price needs a token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		e.baseURL+"/search?q="+url.QueryEscape(strings.ToUpper(token)+"/USDC"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexscreener request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &upstreamRateLimited{endpoint: e.Name(), wait: retryAfterHint(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dexscreener returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read dexscreener response: %w", err)
	}

	var payload struct {
		Pairs []struct {
			PriceUSD    string `json:"priceUsd"`
			PriceChange struct {
				H24 float64 `json:"h24"`
			} `json:"priceChange"`
			Volume struct {
				H24 float64 `json:"h24"`
			} `json:"volume"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("dexscreener returned unparseable body: %w", err)
	}
	if len(payload.Pairs) == 0 {
		return nil, fault.New(fault.KindNotFound, "dispatch", "dexscreener has no pair for %s", token)
	}

	price, err := strconv.ParseFloat(payload.Pairs[0].PriceUSD, 64)
	if err != nil {
		return nil, fmt.Errorf("dexscreener price %q is not numeric: %w", payload.Pairs[0].PriceUSD, err)
	}
	return map[string]any{
		"price_usd":  price,
		"change_24h": payload.Pairs[0].PriceChange.H24,
		"volume_usd": payload.Pairs[0].Volume.H24,
	}, nil
}

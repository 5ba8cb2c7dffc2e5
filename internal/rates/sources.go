package rates

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Source is one independent BTC price endpoint. Parse extracts the USD
// price from the response body.
type Source struct {
	Name  string
	URL   string
	Parse func(body []byte) (float64, error)
}

// DefaultSources returns the configured price sources in fixed priority
// order. The first source that responds without error wins.
func DefaultSources() []Source {
	return []Source{
		{
			Name: "CoinGecko",
			URL:  "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd",
			Parse: func(body []byte) (float64, error) {
				var resp struct {
					Bitcoin struct {
						USD float64 `json:"usd"`
					} `json:"bitcoin"`
				}
				if err := json.Unmarshal(body, &resp); err != nil {
					return 0, fmt.Errorf("malformed CoinGecko response: %w", err)
				}
				if resp.Bitcoin.USD <= 0 {
					return 0, fmt.Errorf("CoinGecko returned price %f", resp.Bitcoin.USD)
				}
				return resp.Bitcoin.USD, nil
			},
		},
		{
			Name: "CoinDesk",
			URL:  "https://api.coindesk.com/v1/bpi/currentprice.json",
			Parse: func(body []byte) (float64, error) {
				var resp struct {
					BPI struct {
						USD struct {
							Rate string `json:"rate"`
						} `json:"USD"`
					} `json:"bpi"`
				}
				if err := json.Unmarshal(body, &resp); err != nil {
					return 0, fmt.Errorf("malformed CoinDesk response: %w", err)
				}
				price, err := strconv.ParseFloat(strings.ReplaceAll(resp.BPI.USD.Rate, ",", ""), 64)
				if err != nil {
					return 0, fmt.Errorf("malformed CoinDesk rate %q: %w", resp.BPI.USD.Rate, err)
				}
				if price <= 0 {
					return 0, fmt.Errorf("CoinDesk returned price %f", price)
				}
				return price, nil
			},
		},
	}
}

// defaultMultiplierURL serves USD→fiat conversion multipliers.
const defaultMultiplierURL = "https://api.exchangerate-api.com/v4/latest/USD"

// fallbackMultipliers is the static table used when the conversion source
// is unreachable. Approximate, refreshed with releases.
var fallbackMultipliers = map[string]float64{
	"USD": 1.0,
	"EUR": 0.85,
	"AUD": 1.5,
	"HKD": 7.8,
	"SGD": 1.35,
}

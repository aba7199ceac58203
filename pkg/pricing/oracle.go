// Copyright 2025 Certen Protocol
//
// Pricing Oracle
// Converts between chain-native storage units and stable-coin atomic units,
// backed by the chain gateway's byte-price endpoint and a cached FX rate.

package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

const (
	defaultGatewayTimeout = 5 * time.Second
	defaultPriceTTL       = 60 * time.Second
	defaultFXTTL          = 5 * time.Minute

	// minStableFloor is the minimum per-quote charge in atomic stable units
	// (1000 atomic units at 6 decimals == $0.001), satisfying facilitators'
	// own minimum transfer amounts.
	minStableFloor = 1000
)

// Oracle converts chain storage costs into stable-coin quotes.
type Oracle struct {
	gatewayURL  string
	fxURL       string
	feePercent  float64
	httpClient  *http.Client
	logger      *log.Logger

	priceMu      sync.RWMutex
	priceCache   map[int64]cachedPrice
	priceTTL     time.Duration

	fxMu       sync.RWMutex
	fxRate     float64
	fxFetched  time.Time
	fxTTL      time.Duration
}

type cachedPrice struct {
	winstonPerByte uint64
	fetchedAt      time.Time
}

// Config configures a new pricing Oracle.
type Config struct {
	GatewayURL string
	FXURL      string
	FeePercent float64
	Logger     *log.Logger
}

// NewOracle constructs a pricing oracle over the chain gateway and an FX source.
func NewOracle(cfg Config) *Oracle {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[Pricing] ", log.LstdFlags)
	}
	feePct := cfg.FeePercent
	if feePct == 0 {
		feePct = 30.0
	}
	return &Oracle{
		gatewayURL: cfg.GatewayURL,
		fxURL:      cfg.FXURL,
		feePercent: feePct,
		httpClient: &http.Client{Timeout: defaultGatewayTimeout},
		logger:     logger,
		priceCache: make(map[int64]cachedPrice),
		priceTTL:   defaultPriceTTL,
		fxTTL:      defaultFXTTL,
	}
}

// ChainUnitPriceForBytes returns the chain-native cost (e.g. winston) to
// store n bytes permanently, caching the gateway's per-byte answer for up
// to priceTTL.
func (o *Oracle) ChainUnitPriceForBytes(ctx context.Context, n int64) (uint64, error) {
	perByte, err := o.chainUnitPricePerByte(ctx)
	if err != nil {
		return 0, err
	}
	return perByte * uint64(n), nil
}

func (o *Oracle) chainUnitPricePerByte(ctx context.Context) (uint64, error) {
	const bucket = 0 // single cached entry; gateways quote a flat per-byte rate

	o.priceMu.RLock()
	cached, ok := o.priceCache[bucket]
	o.priceMu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < o.priceTTL {
		return cached.winstonPerByte, nil
	}

	perByte, err := o.fetchChainUnitPricePerByte(ctx)
	if err != nil {
		if ok {
			o.logger.Printf("gateway price refresh failed, serving stale cache: %v", err)
			return cached.winstonPerByte, nil
		}
		return 0, err
	}

	o.priceMu.Lock()
	o.priceCache[bucket] = cachedPrice{winstonPerByte: perByte, fetchedAt: time.Now()}
	o.priceMu.Unlock()

	return perByte, nil
}

func (o *Oracle) fetchChainUnitPricePerByte(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.gatewayURL+"/price/1", nil)
	if err != nil {
		return 0, fmt.Errorf("build price request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch chain unit price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var perByte uint64
	if err := json.NewDecoder(resp.Body).Decode(&perByte); err != nil {
		return 0, fmt.Errorf("decode price response: %w", err)
	}
	return perByte, nil
}

// fxRateChainToUSD returns the cached chain-native-to-USD rate, refreshing
// it once fxTTL has elapsed.
func (o *Oracle) fxRateChainToUSD(ctx context.Context) (float64, error) {
	o.fxMu.RLock()
	rate, fetchedAt := o.fxRate, o.fxFetched
	o.fxMu.RUnlock()

	if rate > 0 && time.Since(fetchedAt) < o.fxTTL {
		return rate, nil
	}

	fresh, err := o.fetchFXRate(ctx)
	if err != nil {
		if rate > 0 {
			o.logger.Printf("FX refresh failed, serving stale rate: %v", err)
			return rate, nil
		}
		return 0, err
	}

	o.fxMu.Lock()
	o.fxRate = fresh
	o.fxFetched = time.Now()
	o.fxMu.Unlock()

	return fresh, nil
}

func (o *Oracle) fetchFXRate(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.fxURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build FX request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch FX rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("FX source returned status %d", resp.StatusCode)
	}

	var rate float64
	if err := json.NewDecoder(resp.Body).Decode(&rate); err != nil {
		return 0, fmt.Errorf("decode FX response: %w", err)
	}
	return rate, nil
}

// StableForChainUnits converts a chain-native unit amount into an atomic
// stable-coin amount (e.g. USDC base units at 6 decimals), applying the
// bundler fee and the per-quote floor.
func (o *Oracle) StableForChainUnits(ctx context.Context, chainUnits uint64) (uint64, error) {
	rate, err := o.fxRateChainToUSD(ctx)
	if err != nil {
		return 0, err
	}

	usd := float64(chainUnits) * rate
	withFee := usd * (1 + o.feePercent/100)
	atomic := uint64(withFee * 1_000_000)

	if atomic < minStableFloor {
		atomic = minStableFloor
	}
	return atomic, nil
}

// ChainUnitsForStable is the inverse conversion, used to record an
// equivalent chain-unit amount against a received stable-coin payment
// once settlement clears the bundler fee markup.
func (o *Oracle) ChainUnitsForStable(ctx context.Context, atomicStable uint64) (uint64, error) {
	rate, err := o.fxRateChainToUSD(ctx)
	if err != nil {
		return 0, err
	}
	if rate == 0 {
		return 0, fmt.Errorf("FX rate unavailable")
	}

	usd := float64(atomicStable) / 1_000_000
	withoutFee := usd / (1 + o.feePercent/100)
	return uint64(withoutFee / rate), nil
}

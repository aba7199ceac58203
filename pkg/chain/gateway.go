// Copyright 2025 Certen Protocol
//
// Gateway is the thin HTTP client the admission and pipeline components
// share to talk to the permanent storage chain: current height (for
// deadlineHeight math), bundle submission, and confirmation-depth polling.
// Grounded on the teacher's plain net/http-with-context GET pattern used
// throughout pkg/batch for external service calls; generalized here from
// a single height fetch into the full submit/poll surface C9 needs.

package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type heightResponse struct {
	Height int64 `json:"height"`
}

type submitResponse struct {
	TxID string `json:"id"`
}

type statusResponse struct {
	Found         bool  `json:"found"`
	Confirmations int64 `json:"confirmations"`
	Height        int64 `json:"height"`
}

// Gateway fetches height, submits bundle transactions, and polls
// confirmation depth against an ordered list of gateway URLs, using the
// first that answers for height lookups and the first configured URL for
// writes (submission is not idempotent across distinct gateways).
type Gateway struct {
	urls       []string
	httpClient *http.Client
}

// NewGateway builds a gateway client over the given ordered URL list.
func NewGateway(urls []string) *Gateway {
	return &Gateway{urls: urls, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// CurrentHeight returns the current chain height from the first gateway
// that answers.
func (g *Gateway) CurrentHeight(ctx context.Context) (int64, error) {
	var lastErr error
	for _, base := range g.urls {
		h, err := g.fetchHeight(ctx, base)
		if err == nil {
			return h, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no chain gateway configured")
	}
	return 0, fmt.Errorf("all chain gateways failed: %w", lastErr)
}

func (g *Gateway) fetchHeight(ctx context.Context, base string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/height", nil)
	if err != nil {
		return 0, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s returned status %d", base, resp.StatusCode)
	}
	var hr heightResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return 0, fmt.Errorf("decode height response from %s: %w", base, err)
	}
	return hr.Height, nil
}

// SubmitBundle posts a signed bundle transaction to the chain's chunk
// endpoint on the first configured gateway, returning the resulting
// transaction id.
func (g *Gateway) SubmitBundle(ctx context.Context, txBytes []byte) (string, error) {
	if len(g.urls) == 0 {
		return "", fmt.Errorf("no chain gateway configured")
	}
	base := g.urls[0]
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/tx", bytes.NewReader(txBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit bundle to %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("%s rejected bundle submission with status %d", base, resp.StatusCode)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decode submit response from %s: %w", base, err)
	}
	if sr.TxID == "" {
		return "", fmt.Errorf("%s returned an empty transaction id", base)
	}
	return sr.TxID, nil
}

// TxStatus reports how many confirmations a previously submitted
// transaction has, trying every configured gateway in order. found is
// false when every gateway reports the transaction unseen (it may still
// be propagating, or it may never have landed).
func (g *Gateway) TxStatus(ctx context.Context, txID string) (confirmations int64, found bool, err error) {
	c, _, f, err := g.TxStatusAtHeight(ctx, txID)
	return c, f, err
}

// TxStatusAtHeight is TxStatus plus the chain height the transaction landed
// at, needed by verify-bundle to record a plan's confirmedHeight.
func (g *Gateway) TxStatusAtHeight(ctx context.Context, txID string) (confirmations int64, height int64, found bool, err error) {
	var lastErr error
	for _, base := range g.urls {
		c, h, f, ferr := g.fetchStatus(ctx, base, txID)
		if ferr == nil {
			if f {
				return c, h, true, nil
			}
			continue
		}
		lastErr = ferr
	}
	if lastErr != nil {
		return 0, 0, false, fmt.Errorf("all chain gateways failed to report tx status: %w", lastErr)
	}
	return 0, 0, false, nil
}

func (g *Gateway) fetchStatus(ctx context.Context, base, txID string) (int64, int64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/tx/"+txID+"/status", nil)
	if err != nil {
		return 0, 0, false, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, 0, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return 0, 0, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, 0, false, fmt.Errorf("%s returned status %d", base, resp.StatusCode)
	}
	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return 0, 0, false, fmt.Errorf("decode status response from %s: %w", base, err)
	}
	return sr.Confirmations, sr.Height, sr.Found, nil
}

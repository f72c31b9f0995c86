package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bus-tracker/internal/transit"
)

// TokenSource supplies bearer tokens for the STM API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Configured() bool
	Invalidate()
}

// STMClient talks to the Montevideo public transport API.
type STMClient struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
	loc     *time.Location
}

func NewSTMClient(baseURL string, tokens TokenSource, timeout time.Duration, loc *time.Location) *STMClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if loc == nil {
		loc = time.Local
	}
	return &STMClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
		loc:     loc,
	}
}

// Ready reports a configuration problem that prevents any fetch.
func (c *STMClient) Ready() error {
	if !c.tokens.Configured() {
		return ErrNotConfigured
	}
	return nil
}

// FetchPositions returns the live positions of the given lines, optionally
// narrowed to specific variants. Invalid records are dropped.
func (c *STMClient) FetchPositions(ctx context.Context, lines, variantIDs []string) ([]transit.Observation, error) {
	q := url.Values{}
	q.Set("lines", strings.Join(lines, ","))
	if len(variantIDs) > 0 {
		q.Set("lineVariantIds", strings.Join(variantIDs, ","))
	}
	var recs []BusRecord
	if err := c.get(ctx, "/buses?"+q.Encode(), &recs); err != nil {
		return nil, err
	}
	out := make([]transit.Observation, 0, len(recs))
	skipped := 0
	for _, r := range recs {
		o, err := r.toObservation(c.loc)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, o)
	}
	if skipped > 0 {
		log.Printf("stm: skipped %d invalid bus records", skipped)
	}
	return out, nil
}

// FetchLineVariants returns the full line variant catalogue.
func (c *STMClient) FetchLineVariants(ctx context.Context) ([]LineVariantRecord, error) {
	var recs []LineVariantRecord
	if err := c.get(ctx, "/buses/linevariants", &recs); err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, r := range recs {
		if err := validate.Struct(r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// FetchStops returns every bus stop known to the API.
func (c *STMClient) FetchStops(ctx context.Context) ([]transit.Stop, error) {
	var recs []StopRecord
	if err := c.get(ctx, "/buses/busstops", &recs); err != nil {
		return nil, err
	}
	out := make([]transit.Stop, 0, len(recs))
	for _, r := range recs {
		if err := validate.Struct(r); err != nil {
			continue
		}
		out = append(out, r.Stop())
	}
	return out, nil
}

func (c *STMClient) get(ctx context.Context, path string, dst any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("access token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("stm request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return fmt.Errorf("stm %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode stm %s: %w", path, err)
	}
	return nil
}

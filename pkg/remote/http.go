package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"skymirror/pkg/logger"
	"skymirror/pkg/models"
)

// HTTPClient talks JSON over HTTP to an index and a store endpoint, with a
// client-side rate limiter so a fast-scrolling UI cannot hammer the index.
type HTTPClient struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
	apiKey  string
}

// HTTPOptions configures NewHTTPClient.
type HTTPOptions struct {
	BaseURL string
	APIKey  string
	// RPS and Burst bound outgoing request rate; zero values disable
	// limiting.
	RPS     float64
	Burst   int
	Timeout time.Duration
}

// NewHTTPClient builds a client for both the index and store roles.
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	var lim *rate.Limiter
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return &HTTPClient{
		base:    opts.BaseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: lim,
		apiKey:  opts.APIKey,
	}
}

func (c *HTTPClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		// not-found means empty result, never an error
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FetchStreamPage implements IndexClient.
func (c *HTTPClient) FetchStreamPage(ctx context.Context, streamName string, cursor models.Cursor, limit int) ([]models.RemoteEntityRecord, error) {
	q := url.Values{}
	q.Set("stream", streamName)
	q.Set("limit", strconv.Itoa(limit))
	switch cursor.Kind {
	case models.CursorWatermark:
		q.Set("older_than", strconv.FormatInt(cursor.OlderThan, 10))
	default:
		q.Set("skip", strconv.Itoa(cursor.Offset))
	}
	var out struct {
		Records []models.RemoteEntityRecord `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/stream", q, nil, &out); err != nil {
		return nil, err
	}
	logger.Debug("index_stream_page", "stream", streamName, "limit", limit, "got", len(out.Records))
	return out.Records, nil
}

// FetchEntitiesByKey implements IndexClient.
func (c *HTTPClient) FetchEntitiesByKey(ctx context.Context, kind models.Kind, addresses []string) ([]models.RemoteEntityRecord, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	body := struct {
		Kind      models.Kind `json:"kind"`
		Addresses []string    `json:"addresses"`
	}{Kind: kind, Addresses: addresses}
	var out struct {
		Records []models.RemoteEntityRecord `json:"records"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/entities", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Write implements StoreClient.
func (c *HTTPClient) Write(ctx context.Context, address string, payload []byte) error {
	body := struct {
		Address string          `json:"address"`
		Payload json.RawMessage `json:"payload"`
	}{Address: address, Payload: payload}
	return c.do(ctx, http.MethodPost, "/v1/records", nil, body, nil)
}

package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	gocache "github.com/patrickmn/go-cache"

	"marketcore/internal/common/errs"
)

// Config holds content store configuration.
type Config struct {
	APIURL     string        `envconfig:"CONTENT_API_URL" default:"http://localhost:5001"`
	GatewayURL string        `envconfig:"CONTENT_GATEWAY_URL" default:"http://localhost:8080"`
	CacheTTL   time.Duration `envconfig:"CONTENT_CACHE_TTL" default:"10m"`
	RetryMax   int           `envconfig:"CONTENT_RETRY_MAX" default:"3"`
}

// Client talks to the content store's HTTP API. Reads are memoized per
// identifier: content is immutable, so a successful fetch never needs
// invalidation. Failed fetches are never cached.
type Client struct {
	apiURL     string
	gatewayURL string
	http       *http.Client
	cache      *gocache.Cache
	logger     *slog.Logger
}

// New creates a content store client with its own bounded-TTL read cache.
func New(cfg Config, logger *slog.Logger) *Client {
	return NewWithCache(cfg, gocache.New(cfg.CacheTTL, cfg.CacheTTL), logger)
}

// NewWithCache creates a client around an injected cache, letting callers
// share or bound the memoization store.
func NewWithCache(cfg Config, cache *gocache.Cache, logger *slog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.Logger = nil

	return &Client{
		apiURL:     cfg.APIURL,
		gatewayURL: cfg.GatewayURL,
		http:       rc.StandardClient(),
		cache:      cache,
		logger:     logger,
	}
}

type addResponse struct {
	Hash string `json:"Hash"`
}

// Put uploads a payload and returns its native content identifier.
func (c *Client) Put(ctx context.Context, payload []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "payload")
	if err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return "", fmt.Errorf("writing upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/api/v0/add", &body)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errs.Network(err, "uploading payload to content store")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errs.Network(nil, "content store upload returned status %d", resp.StatusCode)
	}

	var added addResponse
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		return "", errs.Decode(err, "parsing content store upload response")
	}
	if added.Hash == "" {
		return "", errs.Decode(nil, "content store upload response missing hash")
	}

	c.logger.Debug("payload stored", "cid", added.Hash, "bytes", len(payload))
	return added.Hash, nil
}

// PutJSON marshals v and uploads it.
func (c *Client) PutJSON(ctx context.Context, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	return c.Put(ctx, payload)
}

// Get fetches and JSON-validates the content behind an identifier. The read
// must resolve within timeout; a fetch that does not complete in time fails
// with a timeout error and is not cached. Malformed content surfaces as a
// decode error, distinct from transport failures, so callers can decide
// whether a retry makes sense.
func (c *Client) Get(ctx context.Context, id string, timeout time.Duration) (json.RawMessage, error) {
	if cached, ok := c.cache.Get(id); ok {
		return cached.(json.RawMessage), nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+"/ipfs/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("building fetch request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errs.Timeout(err, "fetching %s exceeded %s", id, timeout)
		}
		return nil, errs.Network(err, "fetching %s from content store", id)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Network(nil, "content store fetch for %s returned status %d", id, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errs.Timeout(err, "fetching %s exceeded %s", id, timeout)
		}
		return nil, errs.Network(err, "reading %s from content store", id)
	}

	if !json.Valid(body) {
		return nil, errs.Decode(nil, "content %s is not valid JSON", id)
	}

	raw := json.RawMessage(body)
	c.cache.SetDefault(id, raw)
	return raw, nil
}

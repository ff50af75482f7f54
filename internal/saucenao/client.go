// Package saucenao looks up source pages for an image through the SauceNAO
// reverse image search API.
package saucenao

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	apiURL     = "https://saucenao.com/search.php"
	outputType = "2"
	allDBs     = "999"

	// Free accounts get four searches per thirty seconds.
	requestInterval = 8 * time.Second
)

// Client searches SauceNAO, paces its own requests, and refuses to search
// while a quota cooldown is active.
type Client struct {
	apiKey   string
	minSim   float64
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	cooldown *cooldown
	logger   *slog.Logger
}

// NewClient creates a search client. minSimilarity is the percentage floor
// below which matches are dropped; values outside 0..100 are clamped.
func NewClient(log *slog.Logger, apiKey string, minSimilarity float64) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("saucenao: api key is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if minSimilarity < 0 {
		minSimilarity = 0
	}
	if minSimilarity > 100 {
		minSimilarity = 100
	}
	return &Client{
		apiKey:   apiKey,
		minSim:   minSimilarity,
		endpoint: apiURL,
		http:     &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(requestInterval), 1),
		cooldown: newCooldown(),
		logger:   log.With(slog.String("client", "saucenao")),
	}, nil
}

// SearchURL looks up matches for an image already hosted somewhere.
func (c *Client) SearchURL(ctx context.Context, imageURL string) ([]Result, error) {
	params := c.baseParams()
	params.Set("url", imageURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.search(ctx, req)
}

// SearchBytes looks up matches for raw image bytes via multipart upload.
func (c *Client) SearchBytes(ctx context.Context, data []byte) ([]Result, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("saucenao: image payload is empty")
	}
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?"+c.baseParams().Encode(), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.search(ctx, req)
}

// Sources flattens the external source URLs of every match for an image.
func (c *Client) Sources(ctx context.Context, data []byte) ([]string, error) {
	results, err := c.SearchBytes(ctx, data)
	if err != nil {
		return nil, err
	}
	var sources []string
	for _, result := range results {
		sources = append(sources, result.Data.ExtURLs...)
	}
	return sources, nil
}

func (c *Client) baseParams() url.Values {
	return url.Values{
		"output_type": {outputType},
		"api_key":     {c.apiKey},
		"db":          {allDBs},
	}
}

func (c *Client) search(ctx context.Context, req *http.Request) ([]Result, error) {
	if err := c.cooldown.check(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("saucenao request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, c.cooldown.throttle()
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("saucenao: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("saucenao: decode response: %w", err)
	}

	// The response carries the remaining quota; a zero here arms the
	// cooldown for the next call, but this call's results are still good.
	if cerr := c.cooldown.observe(decoded.Header); cerr != nil {
		c.logger.Warn("search quota exhausted", slog.Any("error", cerr))
		if decoded.Header.Status != 0 && len(decoded.Results) == 0 {
			return nil, cerr
		}
	}

	return c.filter(decoded.Results), nil
}

// filter drops matches at or below the similarity floor. Similarity arrives
// as a decimal string; unparsable values are dropped.
func (c *Client) filter(results []Result) []Result {
	kept := make([]Result, 0, len(results))
	for _, result := range results {
		similarity, err := strconv.ParseFloat(result.Header.Similarity, 64)
		if err != nil {
			continue
		}
		if similarity > c.minSim {
			kept = append(kept, result)
		}
	}
	return kept
}

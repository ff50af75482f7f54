// Package hydrus is a typed client for the Hydrus client API, used as the
// remote content store: it persists files, attaches tags and source URLs,
// and streams stored artifacts back by hash.
package hydrus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const accessKeyHeader = "Hydrus-Client-API-Access-Key"

// Client talks to one Hydrus instance. Construct with NewClient; call
// VerifyAccessKey once at startup to populate the permission set.
type Client struct {
	baseURL         string
	accessKey       string
	tagsNamespace   string
	destinationPage string
	http            *http.Client
	logger          *slog.Logger
	permissions     map[Permission]struct{}
}

// NewClient creates a store client. tagsNamespace names the tag service new
// tags are written to; destinationPage optionally names the client page
// imports are shown on.
func NewClient(log *slog.Logger, baseURL, accessKey, tagsNamespace, destinationPage string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("hydrus: base url is required")
	}
	if strings.TrimSpace(accessKey) == "" {
		return nil, fmt.Errorf("hydrus: access key is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		accessKey:       accessKey,
		tagsNamespace:   tagsNamespace,
		destinationPage: destinationPage,
		http:            &http.Client{Timeout: timeout},
		logger:          log.With(slog.String("client", "hydrus")),
		permissions:     map[Permission]struct{}{},
	}, nil
}

// VerifyAccessKey checks the access key and caches the permission set.
func (c *Client) VerifyAccessKey(ctx context.Context) error {
	var resp verifyAccessKeyResponse
	if err := c.getJSON(ctx, "/verify_access_key", nil, &resp); err != nil {
		return fmt.Errorf("verify access key: %w", err)
	}
	permissions := make(map[Permission]struct{}, len(resp.BasicPermissions))
	for _, p := range resp.BasicPermissions {
		permissions[Permission(p)] = struct{}{}
	}
	c.permissions = permissions
	c.logger.Debug("access key verified", slog.Int("permissions", len(permissions)))
	return nil
}

// HasPermission reports whether the verified access key grants p.
func (c *Client) HasPermission(p Permission) bool {
	_, ok := c.permissions[p]
	return ok
}

// AddFile imports raw file bytes into the store.
func (c *Client) AddFile(ctx context.Context, data []byte) (ImportResult, error) {
	if len(data) == 0 {
		return ImportResult{}, fmt.Errorf("file payload is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/add_files/add_file", bytes.NewReader(data))
	if err != nil {
		return ImportResult{}, err
	}
	req.Header.Set(accessKeyHeader, c.accessKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp addFileResponse
	if err := c.do(req, &resp); err != nil {
		return ImportResult{}, fmt.Errorf("add file: %w", err)
	}
	return ImportResult{Status: ImportStatus(resp.Status), Hash: resp.Hash, Note: resp.Note}, nil
}

// TagServiceKey resolves the configured tags namespace to its service key.
func (c *Client) TagServiceKey(ctx context.Context) (string, error) {
	var resp getServiceResponse
	params := url.Values{"service_name": {c.tagsNamespace}}
	if err := c.getJSON(ctx, "/get_service", params, &resp); err != nil {
		return "", fmt.Errorf("get tag service: %w", err)
	}
	if resp.Service.ServiceKey == "" {
		return "", fmt.Errorf("tag service %q has no key", c.tagsNamespace)
	}
	return resp.Service.ServiceKey, nil
}

// PageKey finds the client page with the given name, searching nested page
// groups depth-first. Returns empty when the page does not exist or the
// access key lacks the pages permission.
func (c *Client) PageKey(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	if !c.HasPermission(PermissionPages) {
		c.logger.Warn("access key lacks manage-pages permission")
		return "", nil
	}
	var resp getPagesResponse
	if err := c.getJSON(ctx, "/manage_pages/get_pages", nil, &resp); err != nil {
		return "", fmt.Errorf("get pages: %w", err)
	}
	return findPageKey(resp.Pages.Pages, name), nil
}

func findPageKey(pages []page, name string) string {
	for _, p := range pages {
		if len(p.Pages) > 0 {
			if key := findPageKey(p.Pages, name); key != "" {
				return key
			}
		}
		if p.Name == name {
			return p.PageKey
		}
	}
	return ""
}

// AddFilesToPage shows already-imported hashes on a client page.
func (c *Client) AddFilesToPage(ctx context.Context, pageKey string, hashes []string) error {
	if pageKey == "" || len(hashes) == 0 {
		return nil
	}
	body := addFilesToPageRequest{PageKey: pageKey, Hashes: hashes}
	if err := c.postJSON(ctx, "/manage_pages/add_files", body, nil); err != nil {
		return fmt.Errorf("add files to page: %w", err)
	}
	return nil
}

// CleanTags normalizes tags the way the store itself would.
func (c *Client) CleanTags(ctx context.Context, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	var resp cleanTagsResponse
	params := url.Values{"tags": {string(encoded)}}
	if err := c.getJSON(ctx, "/add_tags/clean_tags", params, &resp); err != nil {
		return nil, fmt.Errorf("clean tags: %w", err)
	}
	return resp.Tags, nil
}

// AddTags attaches tags to a stored file under the configured namespace.
func (c *Client) AddTags(ctx context.Context, hash string, tags []string) error {
	if hash == "" || len(tags) == 0 {
		return nil
	}
	serviceKey, err := c.TagServiceKey(ctx)
	if err != nil {
		return err
	}
	cleaned, err := c.CleanTags(ctx, tags)
	if err != nil {
		return err
	}
	if len(cleaned) == 0 {
		return nil
	}
	body := addTagsRequest{
		Hashes:            []string{hash},
		ServiceKeysToTags: map[string][]string{serviceKey: cleaned},
	}
	if err := c.postJSON(ctx, "/add_tags/add_tags", body, nil); err != nil {
		return fmt.Errorf("add tags: %w", err)
	}
	return nil
}

// AssociateURLs records source URLs against a stored file.
func (c *Client) AssociateURLs(ctx context.Context, hash string, urls []string) error {
	if hash == "" || len(urls) == 0 {
		return nil
	}
	body := associateURLRequest{Hashes: []string{hash}, URLsToAdd: urls}
	if err := c.postJSON(ctx, "/add_urls/associate_url", body, nil); err != nil {
		return fmt.Errorf("associate urls: %w", err)
	}
	return nil
}

// URLFiles returns the store's import records for a URL.
func (c *Client) URLFiles(ctx context.Context, target string) ([]ImportResult, error) {
	var resp urlFilesResponse
	params := url.Values{"url": {target}}
	if err := c.getJSON(ctx, "/add_urls/get_url_files", params, &resp); err != nil {
		return nil, fmt.Errorf("get url files: %w", err)
	}
	results := make([]ImportResult, 0, len(resp.URLFileStatuses))
	for _, status := range resp.URLFileStatuses {
		results = append(results, ImportResult{
			Status: ImportStatus(status.Status),
			Hash:   status.Hash,
			Note:   status.Note,
		})
	}
	return results, nil
}

// AddURL asks the store to import a URL, attaching extra tags.
func (c *Client) AddURL(ctx context.Context, target string, tags []string) error {
	body := addURLRequest{
		URL:                 target,
		DestinationPageName: c.destinationPage,
	}
	if len(tags) > 0 {
		serviceKey, err := c.TagServiceKey(ctx)
		if err != nil {
			return err
		}
		cleaned, err := c.CleanTags(ctx, tags)
		if err != nil {
			return err
		}
		if len(cleaned) > 0 {
			body.ServiceKeysToAdditionalTags = map[string][]string{serviceKey: cleaned}
		}
	}
	if err := c.postJSON(ctx, "/add_urls/add_url", body, nil); err != nil {
		return fmt.Errorf("add url: %w", err)
	}
	return nil
}

// Import performs one composite import: the optional raw payload first, then
// each URL. Tags and source URLs are attached to every imported file.
// Additional tags are re-applied by hand to URL files the store already
// holds, because a URL import does not re-attach them.
func (c *Client) Import(ctx context.Context, input ImportInput) ([]ImportResult, error) {
	var results []ImportResult

	if len(input.Payload) > 0 {
		added, err := c.AddFile(ctx, input.Payload)
		if err != nil {
			return results, err
		}
		if pageKey, err := c.PageKey(ctx, c.destinationPage); err == nil && pageKey != "" {
			if err := c.AddFilesToPage(ctx, pageKey, []string{added.Hash}); err != nil {
				c.logger.Warn("move to page failed", slog.Any("error", err))
			}
		}
		if err := c.AddTags(ctx, added.Hash, input.Tags); err != nil {
			return results, err
		}
		if err := c.AssociateURLs(ctx, added.Hash, input.URLs); err != nil {
			return results, err
		}
		results = append(results, added)
	}

	for _, target := range input.URLs {
		statuses, err := c.URLFiles(ctx, target)
		if err != nil {
			return results, err
		}
		if len(statuses) > 0 && statuses[0].Status == ImportStatusAlreadyInDatabase {
			if err := c.AddTags(ctx, statuses[0].Hash, input.Tags); err != nil {
				return results, err
			}
		}
		if err := c.AddURL(ctx, target, input.Tags); err != nil {
			return results, err
		}
		statuses, err = c.URLFiles(ctx, target)
		if err != nil {
			return results, err
		}
		if len(statuses) > 0 {
			results = append(results, statuses[0])
		}
	}
	return results, nil
}

// GetFile streams a stored artifact by hash, exposing the Content-Type and
// Content-Length headers for downstream size budgeting.
func (c *Client) GetFile(ctx context.Context, hash string) (FetchedFile, error) {
	if hash == "" {
		return FetchedFile{}, fmt.Errorf("hash is required")
	}
	if !c.HasPermission(PermissionFilesSearchFetch) {
		return FetchedFile{}, fmt.Errorf("access key lacks search-and-fetch permission")
	}
	params := url.Values{"hash": {hash}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_files/file?"+params.Encode(), nil)
	if err != nil {
		return FetchedFile{}, err
	}
	req.Header.Set(accessKeyHeader, c.accessKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return FetchedFile{}, fmt.Errorf("get file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return FetchedFile{}, fmt.Errorf("get file: status %d", resp.StatusCode)
	}
	declared := int64(0)
	if raw := resp.Header.Get("Content-Length"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			declared = parsed
		}
	}
	return FetchedFile{
		Body:         resp.Body,
		Mime:         resp.Header.Get("Content-Type"),
		DeclaredSize: declared,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set(accessKeyHeader, c.accessKey)
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set(accessKeyHeader, c.accessKey)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

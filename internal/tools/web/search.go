package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/ticketworker/internal/settings"
	"github.com/haasonsaas/ticketworker/internal/tool"
)

// defaultMaxBytes bounds a fetched page's body before extraction, mirroring
// the teacher's 10 MiB raw-fetch cap in extract.go (trimmed here to a much
// smaller default since only readable text, not the raw page, is returned).
const defaultMaxBytes = 200000

// SearchTool implements web.search (spec §4.4): queries an external search
// endpoint, then fetches and extracts readable text from each result page.
type SearchTool struct {
	cfg        settings.WebSearchConfig
	httpClient *http.Client
}

// NewSearchTool builds a search tool from the worker's web-search settings.
// Returns nil if search is not configured (spec §4.4: "web search (if
// configured)" is omitted from the tool set entirely).
func NewSearchTool(cfg settings.WebSearchConfig) *SearchTool {
	if !cfg.Configured() {
		return nil
	}
	return &SearchTool{cfg: cfg, httpClient: &http.Client{Timeout: 15 * time.Second}}
}

func (t *SearchTool) Name() string        { return "web_search" }
func (t *SearchTool) Description() string { return "Search the web and return extracted readable text from top results." }

type searchArgs struct {
	Query      string `json:"query"`
	MaxResults *int   `json:"max_results,omitempty"`
}

func (t *SearchTool) Schema() json.RawMessage {
	return tool.DeriveSchema(searchArgs{}, t.Description())
}

type searchHit struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
}

func (t *SearchTool) Execute(ctx context.Context, tc tool.Context, args json.RawMessage) (*tool.Result, error) {
	var in searchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return &tool.Result{IsError: true, Response: "invalid arguments: " + err.Error()}, nil
	}
	if strings.TrimSpace(in.Query) == "" {
		return &tool.Result{IsError: true, Response: "query is required"}, nil
	}
	maxResults := 3
	if in.MaxResults != nil && *in.MaxResults > 0 {
		maxResults = *in.MaxResults
	}

	hits, err := t.query(ctx, in.Query)
	if err != nil {
		return &tool.Result{IsError: true, Response: "web search failed: " + err.Error()}, nil
	}
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	var b strings.Builder
	for _, hit := range hits {
		fmt.Fprintf(&b, "## %s\n%s\n\n", hit.Title, hit.URL)
		text, fetchErr := t.fetchAndExtract(ctx, hit.URL)
		if fetchErr != nil {
			fmt.Fprintf(&b, "(could not fetch: %s)\n\n", fetchErr.Error())
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	return &tool.Result{Response: strings.TrimSpace(b.String())}, nil
}

func (t *SearchTool) query(ctx context.Context, q string) ([]searchHit, error) {
	endpoint := t.cfg.Endpoint + "?q=" + url.QueryEscape(q)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search endpoint returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return parsed.Results, nil
}

func (t *SearchTool) fetchAndExtract(ctx context.Context, target string) (string, error) {
	if err := validateURLForSSRF(target); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; TicketWorkerBot/1.0)")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	maxBytes := t.cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxBytes)))
	if err != nil {
		return "", err
	}

	return stripHTML(string(body)), nil
}

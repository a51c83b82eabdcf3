package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/madcadaver/dbot/internal/config"
	"github.com/madcadaver/dbot/internal/llm"
	"github.com/madcadaver/dbot/internal/memory"
	"github.com/madcadaver/dbot/internal/models"
	httpclient "github.com/madcadaver/dbot/pkg/http"
	"github.com/madcadaver/dbot/pkg/logger"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/net/html"
)

const pageContentLimit = 8000

// WebSearch queries a SearxNG instance, fetches the top results, distills
// them with the model and commits anything worth remembering. The summary is
// what goes back into the loop as the observation.
type WebSearch struct {
	cfg    config.WebSearchConfig
	client *httpclient.Client
	model  llm.LLM
	facts  *memory.FactStore
	log    *logger.Logger
}

// NewWebSearch creates the web_search tool.
func NewWebSearch(cfg config.WebSearchConfig, client *httpclient.Client, model llm.LLM, facts *memory.FactStore) *WebSearch {
	return &WebSearch{
		cfg:    cfg,
		client: client,
		model:  model,
		facts:  facts,
		log:    logger.New("web_search", "", ""),
	}
}

func (t *WebSearch) Manifest() mcp.Tool {
	return mcp.NewTool(
		"web_search",
		mcp.WithDescription("Search the web for current information. Returns a summary of the most relevant findings."),
		mcp.WithString("query",
			mcp.Description("The search query"),
			mcp.Required(),
		),
	)
}

// searxResult is one entry in SearxNG's JSON response.
type searxResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searxResponse struct {
	Results []searxResult `json:"results"`
}

func (t *WebSearch) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	query, _ := args["query"].(string)

	results, err := t.search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &Result{Content: "No search results found."}, nil
	}

	// Fetch the top pages; snippets alone are usually too thin to answer
	// from.
	var sections []string
	for i, r := range results {
		if i >= t.cfg.FetchPages {
			break
		}
		page, err := t.fetchPage(ctx, r.URL)
		if err != nil {
			t.log.Warn(fmt.Sprintf("failed to fetch %s: %v", r.URL, err))
			page = r.Content
		}
		sections = append(sections, fmt.Sprintf("## %s (%s)\n%s", r.Title, r.URL, page))
	}
	for i := t.cfg.FetchPages; i < len(results); i++ {
		sections = append(sections, fmt.Sprintf("## %s (%s)\n%s", results[i].Title, results[i].URL, results[i].Content))
	}

	summary, facts := t.distill(ctx, query, strings.Join(sections, "\n\n"))
	for _, content := range facts {
		fact := &models.Fact{Content: content, Source: "web_search"}
		if err := t.facts.Commit(ctx, fact); err != nil {
			t.log.Warn(fmt.Sprintf("failed to store search fact: %v", err))
		}
	}

	return &Result{Content: summary}, nil
}

func (t *WebSearch) search(ctx context.Context, query string) ([]searxResult, error) {
	params := url.Values{
		"q":      {query},
		"format": {"json"},
	}
	reqURL := fmt.Sprintf("%s/search?%s", strings.TrimRight(t.cfg.SearxngURL, "/"), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}

	var sr searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(sr.Results) > t.cfg.MaxResults {
		sr.Results = sr.Results[:t.cfg.MaxResults]
	}
	return sr.Results, nil
}

// fetchPage downloads a result page and reduces it to markdown.
func (t *WebSearch) fetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	markdown, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		// 转换失败时退回到纯文本提取。
		markdown = extractText(string(body))
	}
	if len(markdown) > pageContentLimit {
		markdown = markdown[:pageContentLimit]
	}
	return markdown, nil
}

// distill asks the model for a relevance summary and standalone facts worth
// keeping. A response that is not valid JSON is used as the summary as-is.
func (t *WebSearch) distill(ctx context.Context, query, material string) (string, []string) {
	prompt := fmt.Sprintf(`You are reading web search results for the query: %q

Reply with JSON only, in this shape:
{"summary": "what the results say about the query", "facts": ["standalone fact worth remembering", ...]}

Only include facts that are likely to stay true and useful later. An empty facts list is fine.

Search results:
%s`, query, material)

	resp, err := t.model.GenerateContent(ctx, &models.GenerateContentRequest{
		Content: []models.Content{
			{Role: models.SpeakerUser, Parts: []*models.Part{{Text: prompt}}},
		},
	})
	if err != nil || len(resp.Content) == 0 {
		// Model unavailable; the raw snippets are still an answer.
		if len(material) > pageContentLimit {
			material = material[:pageContentLimit]
		}
		return material, nil
	}

	text := resp.Content[0].JoinedText()
	var parsed struct {
		Summary string   `json:"summary"`
		Facts   []string `json:"facts"`
	}
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &parsed); err != nil {
		return text, nil
	}
	return parsed.Summary, parsed.Facts
}

var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"iframe": true, "svg": true, "head": true,
	"nav": true, "footer": true, "header": true,
}

// extractText pulls visible text out of an HTML document with the tokenizer.
func extractText(raw string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(raw))
	var b strings.Builder
	depth := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skipTags[string(name)] {
				depth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skipTags[string(name)] && depth > 0 {
				depth--
			}
		case html.TextToken:
			if depth == 0 {
				text := strings.TrimSpace(string(tokenizer.Text()))
				if text != "" {
					b.WriteString(text)
					b.WriteString("\n")
				}
			}
		}
	}
}

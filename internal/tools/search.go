package tools

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"

	"speedchat-backend/internal/utils"
	"speedchat-backend/pkg/logger"
)

const WebSearchToolName = "web_search"

type SearchConfig struct {
	APIKey        string
	BaseURL       string
	NumResults    int
	MaxCharacters int
	Timeout       time.Duration
}

type SearchResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Content       string `json:"content"`
	PublishedDate string `json:"publishedDate,omitempty"`
}

// WebSearchTool queries the Exa search API. It never fails a turn: any
// upstream problem yields an empty result list.
type WebSearchTool struct {
	cfg    SearchConfig
	client *http.Client
}

func NewWebSearchTool(cfg SearchConfig) *WebSearchTool {
	if cfg.NumResults <= 0 {
		cfg.NumResults = 5
	}
	if cfg.MaxCharacters <= 0 {
		cfg.MaxCharacters = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebSearchTool{cfg: cfg, client: utils.NewHTTPClient(cfg.Timeout)}
}

func (t *WebSearchTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: WebSearchToolName,
		Desc: "Search the web for up-to-date information. Use it for current events, recent facts, or anything you are unsure about.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "The search query",
				Required: true,
			},
		}),
	}, nil
}

func (t *WebSearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := parseArgs(argumentsInJSON, &params); err != nil {
		return "", err
	}
	return marshalResult(map[string]interface{}{
		"results": t.Search(ctx, params.Query),
	})
}

func (t *WebSearchTool) Search(ctx context.Context, query string) []SearchResult {
	results := []SearchResult{}
	query = strings.TrimSpace(query)
	if query == "" || t.cfg.APIKey == "" {
		return results
	}

	body, err := postJSON(ctx, t.client, strings.TrimRight(t.cfg.BaseURL, "/")+"/search",
		map[string]string{"x-api-key": t.cfg.APIKey},
		map[string]interface{}{
			"query":      query,
			"numResults": t.cfg.NumResults,
			"contents": map[string]interface{}{
				"text": map[string]interface{}{"maxCharacters": t.cfg.MaxCharacters},
			},
		})
	if err != nil {
		logger.Warnf("Web search for %q failed: %v", query, err)
		return results
	}

	gjson.GetBytes(body, "results").ForEach(func(_, r gjson.Result) bool {
		if len(results) >= t.cfg.NumResults {
			return false
		}
		results = append(results, SearchResult{
			Title:         r.Get("title").String(),
			URL:           r.Get("url").String(),
			Content:       truncateRunes(r.Get("text").String(), t.cfg.MaxCharacters),
			PublishedDate: r.Get("publishedDate").String(),
		})
		return true
	})
	return results
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/api"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/crawler"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/orchestrate"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// handleListSources handles the list_sources tool
func (s *Server) handleListSources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	aliases := s.cfg.Registry.Aliases()
	sources := make([]map[string]interface{}, 0, len(aliases))

	for _, alias := range aliases {
		srcCfg := s.cfg.AppConfig.Sources[alias]
		info := map[string]interface{}{
			"source":       alias,
			"url_template": srcCfg.URLTemplate,
			"enabled":      config.IsSourceEnabled(srcCfg),
		}

		if n, err := s.cfg.Store.Count(ctx, alias); err == nil {
			info["stored_listings"] = n
		} else {
			s.log.WithField("source", alias).Warnf("Count failed: %v", err)
		}

		if s.jobManager.IsRunning(api.TargetOf([]string{alias})) {
			info["status"] = "running"
		}

		sources = append(sources, info)
	}

	result := map[string]interface{}{
		"sources":       sources,
		"config_path":   s.cfg.ConfigPath,
		"total_sources": len(sources),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handlePreviewListing handles the preview_listing tool
func (s *Server) handlePreviewListing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	alias := strings.ToLower(request.GetString("source", ""))
	if alias == "" {
		return mcp.NewToolResultError("source parameter is required"), nil
	}
	link := request.GetString("url", "")
	if link == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}

	adapter, ok := s.cfg.Registry.Get(alias)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("source '%s' not found. Available sources: %v", alias, s.cfg.Registry.Aliases())), nil
	}

	startTime := time.Now()
	listing, rule, err := crawler.Preview(ctx, adapter, s.cfg.Fetcher, s.chain, link)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("preview failed (%s): %v", utils.CategorizeError(err), err)), nil
	}

	result := map[string]interface{}{
		"source":        alias,
		"listing":       listing,
		"accepted":      rule == "",
		"fetch_time_ms": time.Since(startTime).Milliseconds(),
	}
	if rule != "" {
		result["rejected_by"] = rule
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleImportSources handles the import_sources tool
func (s *Server) handleImportSources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from := request.GetString("from", "")
	if from == "" {
		return mcp.NewToolResultError("from parameter is required"), nil
	}

	aliases, err := orchestrate.ResolveSourceKeys(s.cfg.AppConfig, s.cfg.Registry, from)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(aliases) == 0 {
		return mcp.NewToolResultError("no enabled sources to import"), nil
	}

	job, created := s.jobManager.Launch(aliases, func(ctx context.Context, aliases []string) (*orchestrate.RunSummary, error) {
		return s.cfg.Importer.Run(ctx, aliases, s.storeMode)
	}, s.log)

	if !created {
		result := map[string]interface{}{
			"status":  "already_running",
			"message": "An import of these sources is already in progress",
			"job_id":  job.ID,
			"sources": job.Sources,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	result := map[string]interface{}{
		"status":     "started",
		"message":    "Import started successfully",
		"job_id":     job.ID,
		"sources":    job.Sources,
		"store_mode": s.storeMode,
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job, ok := s.jobManager.GetJob(jobID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":     job.ID,
		"sources":    job.Sources,
		"status":     job.Status,
		"started_at": job.StartedAt.Format(time.RFC3339),
	}

	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.Summary != nil {
		accepted := make(map[string]int, len(job.Summary.Results))
		for _, r := range job.Summary.Results {
			accepted[r.Source] = r.Accepted
		}
		result["run_id"] = job.Summary.RunID
		result["accepted"] = accepted
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleSearchListings handles the search_listings tool
func (s *Server) handleSearchListings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	alias := strings.ToLower(request.GetString("source", ""))
	maxResults := request.GetInt("max_results", 10)
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > 100 {
		maxResults = 100
	}

	aliases := s.cfg.Registry.Aliases()
	if alias != "" {
		if _, ok := s.cfg.Registry.Get(alias); !ok {
			return mcp.NewToolResultError(fmt.Sprintf("source '%s' not found", alias)), nil
		}
		aliases = []string{alias}
	}

	results, err := s.searchStore(ctx, query, aliases, maxResults)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	response := map[string]interface{}{
		"query":         query,
		"results":       results,
		"total_matches": len(results),
	}
	if alias != "" {
		response["source"] = alias
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// searchStore scans the stored listings of aliases for query.
func (s *Server) searchStore(ctx context.Context, query string, aliases []string, maxResults int) ([]map[string]interface{}, error) {
	results := make([]map[string]interface{}, 0)
	folded := utils.FoldText(query)

	for _, alias := range aliases {
		listings, err := s.cfg.Store.ListBySource(ctx, alias)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			s.log.WithField("source", alias).Warnf("Skipping source in search: %v", err)
			continue
		}

		for _, l := range listings {
			if len(results) >= maxResults {
				return results, nil
			}
			location := matchLocation(l, folded)
			if location == "" {
				continue
			}
			results = append(results, map[string]interface{}{
				"source":         alias,
				"source_id":      l.SourceID,
				"title":          l.Title,
				"link":           l.Link,
				"price":          l.Price.String(),
				"neighbourhood":  l.Neighbourhood,
				"snippet":        extractSnippet(l.Description, query, 150),
				"match_location": location,
			})
		}
	}

	return results, nil
}

// matchLocation returns which field of l contains the folded query, "" if none.
func matchLocation(l *models.Listing, foldedQuery string) string {
	switch {
	case strings.Contains(utils.FoldText(l.Title), foldedQuery):
		return "title"
	case strings.Contains(utils.FoldText(l.Neighbourhood), foldedQuery):
		return "neighbourhood"
	case strings.Contains(utils.FoldText(l.Description), foldedQuery):
		return "description"
	}
	return ""
}

// extractSnippet extracts a snippet around the first accent and case
// insensitive match of query, slicing on rune boundaries so multi-byte UTF-8
// characters are never split.
func extractSnippet(content, query string, maxLen int) string {
	runes := []rune(content)
	folded := foldRunes(runes)
	queryRunes := foldRunes([]rune(strings.TrimSpace(query)))

	idx := -1
	if len(queryRunes) > 0 {
		for i := 0; i <= len(folded)-len(queryRunes); i++ {
			if string(folded[i:i+len(queryRunes)]) == string(queryRunes) {
				idx = i
				break
			}
		}
	}

	if idx == -1 {
		if len(runes) > maxLen {
			return string(runes[:maxLen]) + "..."
		}
		return content
	}

	start := idx - maxLen/2
	if start < 0 {
		start = 0
	}
	end := idx + len(queryRunes) + maxLen/2
	if end > len(runes) {
		end = len(runes)
	}

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet = snippet + "..."
	}
	return snippet
}

func foldRunes(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = utils.FoldRune(r)
	}
	return out
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}

package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/pressagent/tools/web_fetch"
	"github.com/mohammad-safakhou/pressagent/tools/web_search"
	searchmodels "github.com/mohammad-safakhou/pressagent/tools/web_search/models"
)

// OutletResearchTask looks up recent coverage by the outlet (and journalist
// when known) so the comment can speak to the outlet's angle.
type OutletResearchTask struct {
	Searcher    web_search.WebSearcher
	Outlet      string
	ContactName string
	MaxResults  int
}

func (t *OutletResearchTask) Name() string { return "outlet_research" }

func (t *OutletResearchTask) Timeout() time.Duration { return 0 }

func (t *OutletResearchTask) Fallback() Finding {
	return Finding{
		Task:    t.Name(),
		Content: fmt.Sprintf("No outlet research available for %s.", t.Outlet),
	}
}

func (t *OutletResearchTask) Run(ctx context.Context) (Finding, error) {
	q := t.Outlet
	if t.ContactName != "" {
		q = t.ContactName + " " + t.Outlet
	}
	results, err := t.Searcher.Discover(ctx, q, t.MaxResults, nil, 0)
	if err != nil {
		return Finding{}, fmt.Errorf("outlet search: %w", err)
	}
	if len(results) == 0 {
		return Finding{Content: fmt.Sprintf("No recent coverage found for %s.", t.Outlet)}, nil
	}
	return summarizeResults("Recent coverage for "+q+":", results), nil
}

// SupportingDataTask searches for facts and figures around the subject and
// topic of the request.
type SupportingDataTask struct {
	Searcher   web_search.WebSearcher
	Subject    string
	Topic      string
	MaxResults int
}

func (t *SupportingDataTask) Name() string { return "supporting_data" }

func (t *SupportingDataTask) Timeout() time.Duration { return 0 }

func (t *SupportingDataTask) Fallback() Finding {
	return Finding{
		Task:    t.Name(),
		Content: "No supporting data available.",
	}
}

func (t *SupportingDataTask) Run(ctx context.Context) (Finding, error) {
	q := strings.TrimSpace(t.Subject + " " + t.Topic)
	results, err := t.Searcher.Discover(ctx, q, t.MaxResults, nil, 0)
	if err != nil {
		return Finding{}, fmt.Errorf("supporting data search: %w", err)
	}
	if len(results) == 0 {
		return Finding{Content: "No supporting data found."}, nil
	}
	return summarizeResults("Supporting data for "+q+":", results), nil
}

// ArticleFetchTask pulls the full text of the article the journalist is
// writing about, when the request carries a source URL. Headless fetches run
// slower than searches, so the task carries its own deadline.
type ArticleFetchTask struct {
	Fetcher  web_fetch.WebFetcher
	URL      string
	Deadline time.Duration
}

func (t *ArticleFetchTask) Name() string { return "article_fetch" }

func (t *ArticleFetchTask) Timeout() time.Duration { return t.Deadline }

func (t *ArticleFetchTask) Fallback() Finding {
	return Finding{
		Task:    t.Name(),
		Content: "Source article could not be retrieved.",
		Sources: []string{t.URL},
	}
}

func (t *ArticleFetchTask) Run(ctx context.Context) (Finding, error) {
	res, err := t.Fetcher.Exec(ctx, t.URL)
	if err != nil {
		return Finding{}, fmt.Errorf("fetch %s: %w", t.URL, err)
	}
	if res.Status != 200 || strings.TrimSpace(res.Text) == "" {
		return Finding{}, fmt.Errorf("fetch %s: no readable content (status %d)", t.URL, res.Status)
	}
	content := res.Text
	if res.Title != "" {
		content = res.Title + "\n\n" + content
	}
	return Finding{Content: content, Sources: []string{t.URL}}, nil
}

func summarizeResults(header string, results []searchmodels.Result) Finding {
	var b strings.Builder
	b.WriteString(header)
	sources := make([]string, 0, len(results))
	for _, r := range results {
		b.WriteString("\n- ")
		b.WriteString(r.Title)
		if r.Snippet != "" {
			b.WriteString(": ")
			b.WriteString(r.Snippet)
		}
		sources = append(sources, r.URL)
	}
	return Finding{Content: b.String(), Sources: sources}
}

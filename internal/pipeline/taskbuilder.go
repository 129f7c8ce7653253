package pipeline

import (
	"time"

	"github.com/mohammad-safakhou/pressagent/internal/profile"
	"github.com/mohammad-safakhou/pressagent/internal/research"
	"github.com/mohammad-safakhou/pressagent/tools/web_fetch"
	"github.com/mohammad-safakhou/pressagent/tools/web_search"
)

// DefaultTaskBuilder derives the research plan from the request: outlet
// coverage and supporting data always run; the source article is fetched
// only when the request carries a URL and a fetcher is configured.
// fetchTimeout bounds the article fetch independently of the shared task
// default.
func DefaultTaskBuilder(searcher web_search.WebSearcher, fetcher web_fetch.WebFetcher, maxResults int, fetchTimeout time.Duration) TaskBuilder {
	return func(req Request, _ profile.Profile) []research.Task {
		var tasks []research.Task
		if searcher != nil {
			tasks = append(tasks,
				&research.OutletResearchTask{
					Searcher:    searcher,
					Outlet:      req.TopicID,
					ContactName: req.ContactName,
					MaxResults:  maxResults,
				},
				&research.SupportingDataTask{
					Searcher:   searcher,
					Subject:    req.SubjectID,
					Topic:      req.Question,
					MaxResults: maxResults,
				},
			)
		}
		if fetcher != nil && req.SourceURL != "" {
			tasks = append(tasks, &research.ArticleFetchTask{
				Fetcher:  fetcher,
				URL:      req.SourceURL,
				Deadline: fetchTimeout,
			})
		}
		return tasks
	}
}

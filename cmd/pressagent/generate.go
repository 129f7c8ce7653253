package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/pressagent/config"
	"github.com/mohammad-safakhou/pressagent/internal/cache"
	"github.com/mohammad-safakhou/pressagent/internal/evaluation"
	"github.com/mohammad-safakhou/pressagent/internal/memory"
	"github.com/mohammad-safakhou/pressagent/internal/notify"
	"github.com/mohammad-safakhou/pressagent/internal/pipeline"
	"github.com/mohammad-safakhou/pressagent/internal/profile"
	"github.com/mohammad-safakhou/pressagent/internal/rag"
	"github.com/mohammad-safakhou/pressagent/internal/research"
	"github.com/mohammad-safakhou/pressagent/provider"
	"github.com/mohammad-safakhou/pressagent/tools/web_fetch"
	"github.com/mohammad-safakhou/pressagent/tools/web_search"
)

// generateCMD runs the pipeline once without the server: request from flags
// or a JSON document on stdin, response JSON on stdout. It uses in-process
// cache and memory so no Redis or Postgres is needed.
func generateCMD() *cobra.Command {
	var cfgPath string
	var req pipeline.Request
	var fromStdin bool

	var generate = &cobra.Command{
		Use:   "generate",
		Short: "Run the comment pipeline once and print the response",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			if fromStdin {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &req); err != nil {
					return fmt.Errorf("parse request: %w", err)
				}
			}

			orch, err := buildLocalOrchestrator(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			resp, err := orch.Run(ctx, req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	generate.Flags().StringVar(&req.SourceText, "source-text", "", "article or quote the journalist is writing about")
	generate.Flags().StringVar(&req.Question, "question", "", "the journalist's question")
	generate.Flags().StringVar(&req.TopicID, "outlet", "", "outlet identifier")
	generate.Flags().StringVar(&req.SubjectID, "subject", "", "subject identifier")
	generate.Flags().StringVar(&req.SourceURL, "source-url", "", "optional source article URL")
	generate.Flags().StringVar(&req.ContactName, "contact", "", "optional journalist name")
	generate.Flags().BoolVar(&fromStdin, "stdin", false, "read the request JSON from stdin instead of flags")
	generate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return generate
}

func buildLocalOrchestrator(cfg *config.Config) (*pipeline.Orchestrator, error) {
	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}

	longTerm := memory.NewInMemoryLongTerm()
	examples, err := rag.NewExamplesStore()
	if err != nil {
		return nil, err
	}
	if dir := cfg.RAG.Examples.Dir; dir != "" {
		if _, err := examples.LoadDir(dir); err != nil {
			log.Printf("[PIPELINE] examples dir %s: %v", dir, err)
		}
	}
	retriever := rag.NewRetriever(0,
		rag.Source{Store: &rag.HistoryStore{Memory: longTerm}, TopK: cfg.RAG.History.TopK, Timeout: cfg.RAG.History.Timeout},
		rag.Source{Store: examples, TopK: cfg.RAG.Examples.TopK, Timeout: cfg.RAG.Examples.Timeout},
	)

	var searcher web_search.WebSearcher
	if cfg.Research.SerperAPIKey != "" || cfg.Research.BraveAPIKey != "" {
		key := cfg.Research.SerperAPIKey
		if web_search.Provider(cfg.Research.Provider) == web_search.BraveProvider {
			key = cfg.Research.BraveAPIKey
		}
		searcher, err = web_search.NewWebSearcher(web_search.Provider(cfg.Research.Provider), key)
		if err != nil {
			return nil, err
		}
	}
	var fetcher web_fetch.WebFetcher
	if cfg.Research.Fetch.Enabled {
		fetcher, err = web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType,
			cfg.Research.Fetch.Timeout, cfg.Research.Fetch.MaxChars)
		if err != nil {
			return nil, err
		}
	}

	return pipeline.NewOrchestrator(pipeline.Deps{
		Cache:     cache.NewMemoryCache(cfg.Cache.TTL),
		Profiles:  profile.NewManager(cfg.Profiles.Dir, cfg.Profiles.CacheTTL),
		Sessions:  memory.NewSessionManager(cfg.Memory.SessionTokenBudget),
		LongTerm:  longTerm,
		Retriever: retriever,
		FanOut:    research.NewFanOut(cfg.Research.TaskTimeout, nil),
		LLM:       llm,
		Evaluator: evaluation.NewEvaluator(llm, cfg.LLM.Routing.Evaluate.Name, cfg.Evaluation.Threshold, nil),
		Notifier:  notify.NoopNotifier{},
	}, pipeline.Options{
		CacheEnabled:      false,
		Draft:             cfg.LLM.Routing.Draft,
		Refine:            cfg.LLM.Routing.Refine,
		EvaluationEnabled: cfg.Evaluation.Enabled,
		TaskBuilder:       pipeline.DefaultTaskBuilder(searcher, fetcher, cfg.Research.MaxResults, cfg.Research.Fetch.Timeout),
	}), nil
}

package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/pressagent/config"
	"github.com/mohammad-safakhou/pressagent/internal/cache"
	"github.com/mohammad-safakhou/pressagent/internal/evaluation"
	"github.com/mohammad-safakhou/pressagent/internal/memory"
	"github.com/mohammad-safakhou/pressagent/internal/notify"
	"github.com/mohammad-safakhou/pressagent/internal/pipeline"
	"github.com/mohammad-safakhou/pressagent/internal/profile"
	"github.com/mohammad-safakhou/pressagent/internal/rag"
	"github.com/mohammad-safakhou/pressagent/internal/research"
	"github.com/mohammad-safakhou/pressagent/internal/store"
	"github.com/mohammad-safakhou/pressagent/internal/telemetry"
	"github.com/mohammad-safakhou/pressagent/provider"
	"github.com/mohammad-safakhou/pressagent/tools/web_fetch"
	"github.com/mohammad-safakhou/pressagent/tools/web_search"
)

// Run loads configuration, wires every dependency and serves the API until
// the process exits. addr overrides server.address when non-empty.
func Run(cfgPath, addr string) error {
	cfg := config.LoadConfig(cfgPath)
	if addr == "" {
		addr = cfg.Server.Address
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrations: %v", err)
	}
	st, err := store.New(ctx, dsn)
	if err != nil {
		return err
	}

	rdb, err := cache.Conn(ctx, cfg.Storage.Redis.Addr(), cfg.Storage.Redis.Password,
		cfg.Storage.Redis.DB, cfg.Storage.Redis.Timeout)
	if err != nil {
		return err
	}
	responseCache := cache.NewRedisCache(rdb)

	profiles := profile.NewManager(cfg.Profiles.Dir, cfg.Profiles.CacheTTL)
	sessions := memory.NewSessionManager(cfg.Memory.SessionTokenBudget)

	var longTerm memory.LongTerm
	if cfg.Memory.LongTerm.Enabled {
		if cfg.Memory.LongTerm.Backend == "inmemory" {
			longTerm = memory.NewInMemoryLongTerm()
		} else {
			longTerm = st
		}
	}

	examples, err := rag.NewExamplesStore()
	if err != nil {
		return err
	}
	if dir := cfg.RAG.Examples.Dir; dir != "" {
		n, err := examples.LoadDir(dir)
		if err != nil {
			baseLogger.Printf("examples dir %s: %v", dir, err)
		} else {
			baseLogger.Printf("indexed %d example documents from %s", n, dir)
		}
	}
	// Source order fixes merge priority: history, knowledge, examples.
	var sources []rag.Source
	if longTerm != nil {
		sources = append(sources, rag.Source{
			Store:   &rag.HistoryStore{Memory: longTerm},
			TopK:    cfg.RAG.History.TopK,
			Timeout: cfg.RAG.History.Timeout,
		})
	}
	sources = append(sources,
		rag.Source{
			Store:   &rag.KnowledgeStore{Searcher: st},
			TopK:    cfg.RAG.Knowledge.TopK,
			Timeout: cfg.RAG.Knowledge.Timeout,
		},
		rag.Source{
			Store:   examples,
			TopK:    cfg.RAG.Examples.TopK,
			Timeout: cfg.RAG.Examples.Timeout,
		},
	)
	retriever := rag.NewRetriever(0, sources...)

	searchKey := cfg.Research.SerperAPIKey
	if web_search.Provider(cfg.Research.Provider) == web_search.BraveProvider {
		searchKey = cfg.Research.BraveAPIKey
	}
	searcher, err := web_search.NewWebSearcher(web_search.Provider(cfg.Research.Provider), searchKey)
	if err != nil {
		return err
	}
	var fetcher web_fetch.WebFetcher
	if cfg.Research.Fetch.Enabled {
		fetcher, err = web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType,
			cfg.Research.Fetch.Timeout, cfg.Research.Fetch.MaxChars)
		if err != nil {
			return err
		}
	}
	researchLogger := log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	fanOut := research.NewFanOut(cfg.Research.TaskTimeout, researchLogger)

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	evalLogger := log.New(log.Writer(), "[EVAL] ", log.LstdFlags)
	evaluator := evaluation.NewEvaluator(llm, cfg.LLM.Routing.Evaluate.Name,
		cfg.Evaluation.Threshold, evalLogger)

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Notify.Enabled {
		notifyLogger := log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags)
		notifier = notify.NewEmailNotifier(cfg.Notify.SMTPHost, cfg.Notify.SMTPPort,
			cfg.Notify.From, cfg.Notify.Password, notifyLogger)
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.New()
	}

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Cache:     responseCache,
		Profiles:  profiles,
		Sessions:  sessions,
		LongTerm:  longTerm,
		Retriever: retriever,
		FanOut:    fanOut,
		LLM:       llm,
		Evaluator: evaluator,
		Notifier:  notifier,
		Metrics:   metrics,
		Logger:    log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	}, pipeline.Options{
		CacheEnabled:      cfg.Cache.Enabled,
		CacheTTL:          cfg.Cache.TTL,
		CachePrefix:       cfg.Cache.KeyPrefix,
		Draft:             cfg.LLM.Routing.Draft,
		Refine:            cfg.LLM.Routing.Refine,
		EvaluationEnabled: cfg.Evaluation.Enabled,
		DefaultRecipient:  cfg.Notify.DefaultRecipient,
		TaskBuilder:       pipeline.DefaultTaskBuilder(searcher, fetcher, cfg.Research.MaxResults, cfg.Research.Fetch.Timeout),
	})

	secret := []byte(cfg.Server.JWTSecret)
	if len(secret) == 0 {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}
	auth := &AuthHandler{Store: st, Secret: secret}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))
	(&CommentsHandler{Orch: orch}).Register(api.Group("/comments"), secret)
	(&SessionsHandler{Sessions: sessions}).Register(api.Group("/sessions"), secret)
	(&KnowledgeHandler{Store: st, Examples: examples, LLM: llm}).Register(api.Group("/knowledge"), secret)
	(&OpsHandler{Cache: responseCache, CachePrefix: cfg.Cache.KeyPrefix, Sessions: sessions, Store: st}).Register(api.Group("/ops"), secret)
	(&ProfilesHandler{Profiles: profiles}).Register(api.Group("/profiles"), secret)

	if cron := cfg.Server.MaintenanceCron; cron != "" {
		sched := &Scheduler{
			Cache:    responseCache,
			Sessions: sessions,
			Store:    st,
			Rdb:      rdb,
			Cron:     cron,
			Stop:     make(chan struct{}),
		}
		sched.Start()
		defer close(sched.Stop)
	}

	return e.Start(addr)
}

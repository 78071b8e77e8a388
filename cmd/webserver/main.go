package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"questionbank"

	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := questionbank.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if port := os.Getenv("PORT"); port != "" && *addr == "" {
		cfg.Server.Addr = ":" + port
	}

	logger := questionbank.NewLogger(cfg.LogConfig())
	defer logger.Sync()
	questionbank.SetLogger(logger)
	questionbank.SetVerbose(cfg.Log.Verbose)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := questionbank.NewMetrics(registry)

	db, err := questionbank.OpenDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.CreateTables(); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store := questionbank.NewQuestionStore(db.SaveQuestions, metrics)
	n, err := db.LoadInto(ctx, store)
	if err != nil {
		log.Fatalf("Failed to load questions: %v", err)
	}
	questionbank.Log().Infow("questions loaded", "count", n, "db", cfg.Database.Path)

	sessionKey := cfg.Server.SessionKey
	if sessionKey == "" {
		questionbank.Log().Warn("SESSION_KEY not set, using an insecure development key")
		sessionKey = "questionbank-dev-session-key"
	}
	cookies := sessions.NewCookieStore([]byte(sessionKey))
	cookies.Options.HttpOnly = true
	cookies.Options.MaxAge = 30 * 24 * 3600

	server := &Server{
		store:    store,
		tracker:  questionbank.NewQuotaTracker(cfg.Quota),
		sessions: cookies,
		persist:  db.SaveQuestions,
		registry: registry,
		defaults: cfg.Session,
		genOpts: questionbank.GeneratorOptions{
			Temperature: cfg.Generator.Temperature,
			LLMLogDir:   cfg.Log.LLMDir,
			Metrics:     metrics,
		},
	}

	if cfg.Generator.APIKey != "" {
		throttle := questionbank.NewThrottle()
		throttle.Subscribe(func(st questionbank.ThrottleStatus) {
			if st.Limited {
				questionbank.Log().Warnw("generation throttled", "retry_after", st.RetryAfter, "seconds", st.RemainingSeconds)
			} else {
				questionbank.Log().Info("generation throttle cleared")
			}
		})
		client := questionbank.NewClient(cfg.ClientConfig(), throttle, metrics)
		server.gen = client
		server.throttle = throttle
		server.translator = questionbank.NewTranslator(client, store, cfg.Translation.Targets, cfg.Translation.Temperature)
	} else {
		questionbank.Log().Warn("no API key configured; generation and translation are disabled")
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting server on %s", cfg.Server.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

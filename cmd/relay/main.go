package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/meihua/gemini-relay/internal/auth/credstore"
	"github.com/meihua/gemini-relay/internal/auth/google"
	"github.com/meihua/gemini-relay/internal/auth/onboard"
	"github.com/meihua/gemini-relay/internal/auth/token"
	"github.com/meihua/gemini-relay/internal/backend"
	"github.com/meihua/gemini-relay/internal/config"
	"github.com/meihua/gemini-relay/internal/db"
	"github.com/meihua/gemini-relay/internal/proxy"
	"github.com/meihua/gemini-relay/internal/proxy/handlers"
	"github.com/meihua/gemini-relay/internal/proxy/middleware"
	"github.com/meihua/gemini-relay/internal/proxy/monitor"
	"github.com/meihua/gemini-relay/internal/version"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env first so config env overrides see it.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Log.File != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSize,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAge,
			Compress:   cfg.Log.Compress,
		}))
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	pm := monitor.NewProxyMonitor(database)
	pm.SetEnabled(cfg.MonitorEnabled)

	store := credstore.New(cfg.CredentialFile)
	backendClient := backend.NewClient()
	refresher := token.NewRefresher(store, google.GetOAuthConfig(""))
	onboarder := onboard.New(store, backendClient)
	onboarder.DefaultProject = cfg.ProjectID

	dispatcher := &proxy.Dispatcher{
		Refresher: refresher,
		Onboarder: onboarder,
		Backend:   backendClient,
	}

	// Bootstrap runs off the serving path: a failure here leaves the
	// relay up but answering 401 until credentials arrive.
	go bootstrap(store, refresher, onboarder, cfg.Interactive)

	// Pick up credentials written by external tooling (gemini-cli login,
	// volume mounts) without a restart.
	stopWatch, err := store.Watch(func() {
		if _, err := store.Load(); err != nil {
			log.Printf("⚠️ Credential file changed but reload failed: %v", err)
			return
		}
		log.Printf("🔑 Credential file changed, reloaded")
	})
	if err != nil {
		log.Printf("⚠️ Credential watch unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	// Public routes
	r.Get("/", rootHandler())
	r.Get("/health", healthHandler())

	// OpenAI-compatible API
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.PasswordAuth(cfg.Password))
		r.Post("/chat/completions", handlers.OpenAIChatHandler(dispatcher, pm))
		r.Get("/models", handlers.OpenAIModelsHandler())
	})

	// Native Gemini API
	r.Route("/v1beta/models", func(r chi.Router) {
		r.Use(middleware.PasswordAuth(cfg.Password))
		r.Get("/", handlers.GeminiModelsHandler())
		r.Post("/{modelAction}", handlers.GeminiGenerateHandler(dispatcher, pm))
	})

	// Monitoring API
	r.Route("/monitor", func(r chi.Router) {
		r.Use(middleware.PasswordAuth(cfg.Password))
		r.Get("/logs", handlers.GetRequestLogsHandler(pm))
		r.Get("/stats", handlers.GetRequestStatsHandler(pm))
		r.Post("/clear", handlers.ClearRequestLogsHandler(pm))
		r.Get("/logging", handlers.GetLoggingStatusHandler(pm))
		r.Post("/logging", handlers.ToggleLoggingHandler(pm))
	})

	addr := cfg.Addr()
	log.Printf("🚀 Gemini relay %s starting on http://%s", version.Version, addr)
	log.Printf("🔌 OpenAI API: http://%s/v1", addr)
	log.Printf("🔌 Gemini API: http://%s/v1beta", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// bootstrap tries to get the relay to a ready state at startup: load the
// stored credential, optionally run the interactive login, then refresh
// and onboard. Every failure is logged and absorbed.
func bootstrap(store *credstore.Store, refresher *token.Refresher, onboarder *onboard.Onboarder, interactive bool) {
	ctx := context.Background()

	if _, err := store.Load(); err != nil {
		if errors.Is(err, credstore.ErrNotFound) && interactive {
			log.Printf("🔑 No stored credentials, starting interactive login")
			if _, err := google.RunInteractiveFlow(ctx, store); err != nil {
				log.Printf("⚠️ Interactive login failed: %v", err)
				return
			}
		} else {
			log.Printf("⚠️ No usable credentials yet (%v), serving degraded until they arrive", err)
			return
		}
	}

	cred, err := refresher.EnsureValid(ctx)
	if err != nil {
		log.Printf("⚠️ Credential refresh failed at startup: %v", err)
		return
	}

	projectID, err := onboarder.EnsureOnboarded(ctx, cred.AccessToken)
	if err != nil {
		log.Printf("⚠️ Onboarding failed at startup: %v", err)
		return
	}
	log.Printf("✅ Ready, project %s", projectID)
}

func rootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>gemini-relay</title></head>
<body style="font-family: sans-serif; max-width: 640px; margin: 60px auto;">
	<h1>gemini-relay %s</h1>
	<p>Protocol-translation proxy for the Gemini Code Assist backend.</p>
	<ul>
		<li><code>POST /v1/chat/completions</code> — OpenAI-compatible chat</li>
		<li><code>GET /v1/models</code> — OpenAI-style model listing</li>
		<li><code>POST /v1beta/models/{model}:generateContent</code> — native Gemini</li>
		<li><code>POST /v1beta/models/{model}:streamGenerateContent</code> — native Gemini, streamed</li>
		<li><code>GET /health</code> — health check</li>
	</ul>
</body>
</html>`, version.Version)
	}
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"service": "gemini-relay",
		})
	}
}

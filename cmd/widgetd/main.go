// widgetd serves the widget embedding runtime: a websocket endpoint
// that hosts page connections, and an embed-code endpoint for
// generating host-page snippets.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/lumeoai/widget-sdk-go/backend"
	wschannel "github.com/lumeoai/widget-sdk-go/channel/websocket"
	"github.com/lumeoai/widget-sdk-go/connection"
	"github.com/lumeoai/widget-sdk-go/embedcode"
	"github.com/lumeoai/widget-sdk-go/internal/config"
	"github.com/lumeoai/widget-sdk-go/runtime"
	"github.com/lumeoai/widget-sdk-go/store/factory"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	listenAddr := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("widgetd: skipping .env: %v", err)
	}

	cfg := loadConfig(*configPath)
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if cfg.BackendURL == "" {
		log.Fatal("widgetd: backend URL is required (config backendUrl or WIDGET_BACKEND_URL)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := factory.New(ctx, cfg.StoreBackend)
	if err != nil {
		log.Fatalf("widgetd: store: %v", err)
	}
	defer st.Close()

	clientOpts := []backend.Option{}
	if cfg.BackendAPIKey != "" {
		clientOpts = append(clientOpts, backend.WithAPIKey(cfg.BackendAPIKey))
	}
	if cfg.RequestTimeout > 0 {
		clientOpts = append(clientOpts, backend.WithTimeout(cfg.RequestTimeout))
	}
	client, err := backend.New(cfg.BackendURL, clientOpts...)
	if err != nil {
		log.Fatalf("widgetd: backend client: %v", err)
	}

	rtOpts := []runtime.Option{
		runtime.WithStore(st),
		runtime.WithLogf(log.Printf),
	}
	if cfg.HeartbeatInterval > 0 {
		rtOpts = append(rtOpts, runtime.WithHeartbeatInterval(cfg.HeartbeatInterval))
	}
	if cfg.RateLimitPerMin > 0 {
		rtOpts = append(rtOpts, runtime.WithRateLimit(cfg.RateLimitPerMin))
	}
	if cfg.DailyQuota > 0 {
		rtOpts = append(rtOpts, runtime.WithDailyQuota(cfg.DailyQuota))
	}
	rt, err := runtime.New(client, rtOpts...)
	if err != nil {
		log.Fatalf("widgetd: runtime: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newHandler(rt, client),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Printf("widgetd: listening on %s", cfg.ListenAddr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Print("widgetd: shutting down")
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("widgetd: server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("widgetd: shutdown: %v", err)
	}
	if err := rt.Close(); err != nil {
		log.Printf("widgetd: runtime close: %v", err)
	}
}

// loadConfig reads the config file when given and fills gaps from the
// environment.
func loadConfig(path string) config.Daemon {
	var cfg config.Daemon
	if path != "" {
		loaded, err := config.LoadDaemon(path)
		if err != nil {
			log.Fatalf("widgetd: config: %v", err)
		}
		cfg = loaded
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = config.Getenv("WIDGET_LISTEN_ADDR", ":8780")
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = config.Getenv("WIDGET_BACKEND_URL", "")
	}
	if cfg.BackendAPIKey == "" {
		cfg.BackendAPIKey = config.Getenv("WIDGET_BACKEND_API_KEY", "")
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = config.Getenv("WIDGET_STORE_BACKEND", "memory")
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = config.ParseDurationEnv("WIDGET_HEARTBEAT_INTERVAL", 0)
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = config.ParseDurationEnv("WIDGET_REQUEST_TIMEOUT", 0)
	}
	if cfg.RateLimitPerMin == 0 {
		cfg.RateLimitPerMin = config.ParseIntEnv("WIDGET_RATE_LIMIT_PER_MINUTE", 0)
	}
	if cfg.DailyQuota == 0 {
		cfg.DailyQuota = config.ParseIntEnv("WIDGET_DAILY_QUOTA", 0)
	}
	return cfg
}

func newHandler(rt *runtime.Runtime, client *backend.Client) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/embed/ws", serveWS(rt))
	mux.HandleFunc("/embed/code", serveEmbedCode(rt, client))
	return mux
}

// serveWS upgrades the socket and hands it to the connection manager.
// Origin checking happens inside Establish against the widget's own
// allow-list, so the upgrader accepts any origin.
func serveWS(rt *runtime.Runtime) http.HandlerFunc {
	upgrader := gws.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		widgetID := r.URL.Query().Get("widgetId")
		if widgetID == "" {
			http.Error(w, "widgetId is required", http.StatusBadRequest)
			return
		}
		parentOrigin := r.Header.Get("Origin")

		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("widgetd: upgrade failed: %v", err)
			return
		}
		ch, err := wschannel.New(sock, parentOrigin)
		if err != nil {
			log.Printf("widgetd: channel: %v", err)
			sock.Close()
			return
		}

		_, err = rt.Establish(r.Context(), connection.EstablishRequest{
			WidgetID:     widgetID,
			ParentOrigin: parentOrigin,
			SessionID:    r.URL.Query().Get("sessionId"),
			Token:        r.URL.Query().Get("token"),
			UserAgent:    r.UserAgent(),
			Channel:      ch,
		})
		if err != nil {
			log.Printf("widgetd: establish failed for widget %s: %v", widgetID, err)
			ch.Close()
		}
	}
}

// serveEmbedCode renders the embed snippet for a widget.
func serveEmbedCode(rt *runtime.Runtime, client *backend.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		widgetID := query.Get("widgetId")
		if widgetID == "" {
			http.Error(w, "widgetId is required", http.StatusBadRequest)
			return
		}

		widget, err := client.GetWidget(r.Context(), widgetID)
		if err != nil {
			var statusErr *backend.StatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
				http.Error(w, "widget not found", http.StatusNotFound)
				return
			}
			log.Printf("widgetd: fetch widget %s: %v", widgetID, err)
			http.Error(w, "failed to load widget", http.StatusBadGateway)
			return
		}

		code, err := rt.EmbedCode(widget, embedcode.Options{
			Format:           embedcode.Format(query.Get("format")),
			BaseURL:          query.Get("baseUrl"),
			ContainerID:      query.Get("containerId"),
			Width:            query.Get("width"),
			Height:           query.Get("height"),
			Responsive:       query.Get("responsive") == "true",
			CustomCSS:        query.Get("customCss"),
			AllowMicrophone:  query.Get("allowMicrophone") == "true",
			AllowCamera:      query.Get("allowCamera") == "true",
			AllowGeolocation: query.Get("allowGeolocation") == "true",
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"widgetId": widgetID, "code": code})
	}
}

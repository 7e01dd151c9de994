// Package main implements the tilecast launcher: a single binary that runs
// as either the host capture/broadcast endpoint or a headless viewer,
// selected with --mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/desknet/tilecast/internal/capture"
	"github.com/desknet/tilecast/internal/config"
	"github.com/desknet/tilecast/internal/input"
	"github.com/desknet/tilecast/internal/logging"
	"github.com/desknet/tilecast/internal/session"
	"github.com/desknet/tilecast/internal/settings"
	"github.com/desknet/tilecast/internal/viewer"
)

var (
	appName    = "tilecast"
	appVersion = "dev" // injected at build time via -ldflags
)

func main() {
	args, action := parseFlags()
	if action != "" {
		return
	}

	if err := run(args); err != nil {
		log.Fatalln(err)
	}
}

type parsedArgs struct {
	mode     string
	host     string
	port     string
	logLevel string

	monitorID         int
	tileSize          int
	fallbackThreshold float64
	captureInterval   time.Duration
	webpQuality       int
	jpegQuality       int

	reconnectDelay time.Duration
	defaultWidth   int
	defaultHeight  int
}

//go:noinline
func parseFlags() (parsedArgs, string) {
	return parseFlagsWithArgs(os.Args[1:])
}

func parseFlagsWithArgs(args []string) (parsedArgs, string) {
	fs := flag.NewFlagSet("tilecast", flag.ContinueOnError)

	mode := fs.String("mode", "", "run mode: server or client")
	host := fs.String("host", "", "listen host (server) or target host (client)")
	port := fs.String("port", "", "listen port (server) or target port (client)")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")

	monitorID := fs.Int("monitor-id", -1, "monitor index to capture (server only)")
	tileSize := fs.Int("tile-size", 0, "tile size in pixels")
	fallbackThreshold := fs.Float64("fallback-threshold", 0, "changed-tile ratio above which a keyframe is sent (server only)")
	captureInterval := fs.Duration("capture-interval", 0, "capture cadence (server only)")
	webpQuality := fs.Int("webp-quality", 0, "delta tile WebP quality 1-100 (server only)")
	jpegQuality := fs.Int("jpeg-quality", 0, "keyframe JPEG quality 1-100 (server only)")

	reconnectDelay := fs.Duration("reconnect-delay", 0, "initial reconnect back-off (client only)")
	defaultWidth := fs.Int("default-width", 0, "provisional screen buffer width (client only)")
	defaultHeight := fs.Int("default-height", 0, "provisional screen buffer height (client only)")

	helpFlag := fs.Bool("help", false, "show help")
	versionFlag := fs.Bool("version", false, "show version")

	_ = fs.Parse(args)

	if *helpFlag {
		showHelp()
		return parsedArgs{}, "help"
	}
	if *versionFlag {
		showVersion()
		return parsedArgs{}, "version"
	}

	parsed := parsedArgs{
		mode:              strings.ToLower(strings.TrimSpace(*mode)),
		host:              strings.TrimSpace(*host),
		port:              strings.TrimSpace(*port),
		logLevel:          strings.TrimSpace(*logLevel),
		tileSize:          *tileSize,
		fallbackThreshold: *fallbackThreshold,
		captureInterval:   *captureInterval,
		webpQuality:       *webpQuality,
		jpegQuality:       *jpegQuality,
		reconnectDelay:    *reconnectDelay,
		defaultWidth:      *defaultWidth,
		defaultHeight:     *defaultHeight,
	}
	if *monitorID >= 0 {
		parsed.monitorID = *monitorID
	}

	return parsed, ""
}

func run(args parsedArgs) error {
	opts := config.LoadOptions{
		Host:              args.host,
		Port:              args.port,
		LogLevel:          args.logLevel,
		MonitorID:         args.monitorID,
		TileSize:          args.tileSize,
		FallbackThreshold: args.fallbackThreshold,
		CaptureInterval:   args.captureInterval,
		WebPQuality:       args.webpQuality,
		JPEGQuality:       args.jpegQuality,
		ReconnectDelay:    args.reconnectDelay,
		DefaultWidth:      args.defaultWidth,
		DefaultHeight:     args.defaultHeight,
	}

	cfg, err := config.LoadWithOverrides(opts)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	setupLogging(cfg.Logging)

	switch args.mode {
	case "server":
		return runServer(cfg)
	case "client":
		return runClient(cfg)
	default:
		return fmt.Errorf("--mode must be %q or %q", "server", "client")
	}
}

func runServer(cfg *config.Config) error {
	store := settings.Open()
	_ = store // persisted preferences are opaque to the core; reserved for future launcher use.

	translator := input.NewTranslator(input.NoopSynthesizer{})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	manager := session.NewManager(cfg.Security.AllowedOrigins, translator, redrawForwarder{})

	engine, err := capture.New(capture.Config{
		MonitorID:         cfg.Session.MonitorID,
		TileSize:          cfg.Session.TileSize,
		FallbackThreshold: cfg.Session.FallbackThreshold,
		JPEGQuality:       cfg.Session.JPEGQuality,
		WebPQuality:       cfg.Session.WebPQuality,
	}, manager)
	if err != nil {
		return fmt.Errorf("failed to start capture engine: %w", err)
	}

	globalEngine = engine

	go func() {
		if err := engine.RunWithInterval(ctx, cfg.Session.CaptureInterval); err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn("capture: engine stopped: %v", err)
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/connect", manager.Accept)
	router.HandleFunc("/healthz", healthzHandler)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	h := applySecurityMiddleware(router, cfg)
	h = requestLoggingMiddleware(h)
	server := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	logging.Info("tilecast server listening on %s (monitor %d, tile %dpx)", addr, cfg.Session.MonitorID, cfg.Session.TileSize)

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Warn("server: shutdown error: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// globalEngine lets redrawForwarder reach the capture engine without a
// wider refactor of the Session Manager's constructor-time dependencies.
var globalEngine *capture.Engine

type redrawForwarder struct{}

func (redrawForwarder) RequestRedraw(sessionID string) {
	if globalEngine != nil {
		globalEngine.RequestRedraw(sessionID)
	}
}

func runClient(cfg *config.Config) error {
	store := settings.Open()
	lastHost := store.GetOrDefault("last_host", cfg.Server.Host+":"+cfg.Server.Port)
	store.Set("last_host", lastHost)

	url := fmt.Sprintf("ws://%s:%s/connect", cfg.Server.Host, cfg.Server.Port)

	client := viewer.NewClient(viewer.Config{
		ReconnectInitDelay: cfg.Viewer.ReconnectInitDelay,
		ReconnectMaxDelay:  cfg.Viewer.ReconnectMaxDelay,
		DefaultWidth:       cfg.Viewer.DefaultWidth,
		DefaultHeight:      cfg.Viewer.DefaultHeight,
	}, viewer.DefaultDialer(url), viewer.NoopPresentation{})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logging.Info("tilecast viewer connecting to %s", url)
	return client.Run(ctx)
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func setupLogging(cfg config.LoggingConfig) {
	log.SetFlags(log.LstdFlags | log.LUTC)
	logging.SetLevelFromString(cfg.Level)
}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Debug("%s %s %s %s", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start))
	})
}

// applySecurityMiddleware wraps next in the hardening chain: security
// headers always, an origin-gated CORS layer, and an optional per-client
// token-bucket rate limiter. The WebSocket upgrade endpoint is still an
// ordinary HTTP request at the point these run, so the chain applies to
// it the same as to /healthz.
func applySecurityMiddleware(next http.Handler, cfg *config.Config) http.Handler {
	h := next
	if cfg.Security.EnableRateLimit {
		h = rateLimitMiddleware(h, cfg.Security.RateLimitPerMinute)
	}
	h = corsMiddleware(h, cfg.Security.AllowedOrigins)
	h = securityHeadersMiddleware(h)
	return h
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; connect-src 'self' ws: wss:")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && isCORSOriginAllowed(origin, allowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isCORSOriginAllowed mirrors the Session Manager's own origin check
// (internal/session.isAllowedOrigin) so the HTTP-layer CORS headers and
// the WebSocket upgrade's origin gate agree on the same allowlist.
func isCORSOriginAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	normalized := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://"), "/")
	if strings.HasPrefix(normalized, "localhost") || strings.HasPrefix(normalized, "127.0.0.1") {
		return true
	}
	for _, candidate := range allowed {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if candidate == origin || candidate == normalized {
			return true
		}
		if strings.TrimPrefix(candidate, "http://") == normalized || strings.TrimPrefix(candidate, "https://") == normalized {
			return true
		}
	}
	return false
}

// rateLimiter is a per-client token bucket refilled continuously at
// ratePerMinute/60 tokens per second, capped at ratePerMinute tokens.
type rateLimiter struct {
	mu       sync.Mutex
	capacity float64
	tokens   float64
	last     time.Time
}

func newRateLimiter(ratePerMinute int) *rateLimiter {
	capacity := float64(ratePerMinute)
	if capacity <= 0 {
		capacity = 1
	}
	return &rateLimiter{capacity: capacity, tokens: capacity, last: time.Now()}
}

func (rl *rateLimiter) allow(now time.Time, refillPerSecond float64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	elapsed := now.Sub(rl.last).Seconds()
	if elapsed > 0 {
		rl.tokens += elapsed * refillPerSecond
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
		rl.last = now
	}
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// rateLimitMiddleware keeps one bucket per remote IP. A session's own
// long-lived WebSocket connection only consumes one token at accept time;
// the limiter only throttles connection attempts, not in-session traffic.
func rateLimitMiddleware(next http.Handler, ratePerMinute int) http.Handler {
	refillPerSecond := float64(ratePerMinute) / 60.0
	var clients sync.Map

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ratePerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		}

		value, _ := clients.LoadOrStore(key, newRateLimiter(ratePerMinute))
		limiter := value.(*rateLimiter)
		if !limiter.allow(time.Now(), refillPerSecond) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func showHelp() {
	fmt.Println(appName)
	fmt.Println("USAGE: tilecast --mode={server|client} [options]")
	fmt.Println("OPTIONS:")
	fmt.Println("  -mode                 server or client (required)")
	fmt.Println("  -host                 listen host (server) / target host (client)")
	fmt.Println("  -port                 listen port (server) / target port (client)")
	fmt.Println("  -log-level            debug, info, warn, error")
	fmt.Println("  -monitor-id           monitor index to capture (server)")
	fmt.Println("  -tile-size            tile size in pixels (both)")
	fmt.Println("  -fallback-threshold   changed-tile ratio that triggers a keyframe (server)")
	fmt.Println("  -capture-interval     capture cadence, e.g. 100ms (server)")
	fmt.Println("  -webp-quality         delta tile WebP quality 1-100 (server)")
	fmt.Println("  -jpeg-quality         keyframe JPEG quality 1-100 (server)")
	fmt.Println("  -reconnect-delay      initial reconnect back-off, e.g. 1s (client)")
	fmt.Println("  -default-width        provisional screen buffer width (client)")
	fmt.Println("  -default-height       provisional screen buffer height (client)")
	fmt.Println("  -version              show version information")
	fmt.Println("  -help                 show this help message")
	fmt.Println("EXAMPLES: tilecast -mode server -port 8765")
	fmt.Println("          tilecast -mode client -host 127.0.0.1 -port 8765")
}

func showVersion() {
	fmt.Printf("%s %s\n", appName, appVersion)
}

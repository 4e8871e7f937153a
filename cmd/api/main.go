package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wastetrack/internal/api"
	"wastetrack/internal/config"
	"wastetrack/internal/events"
	"wastetrack/internal/ingest"
	"wastetrack/internal/metrics"
	"wastetrack/internal/webhooks"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	_ = godotenv.Load()
	loader, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := loader.Current()

	srvDeps, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	metrics.RegisterDefault()

	loader.Watch(func(c config.Config) {
		srvDeps.Tracker.SetRadius(c.Coverage.RadiusM)
		log.Printf("coverage radius now %.1fm", srvDeps.Tracker.Radius())
	})

	if cfg.AMQPURL != "" {
		conn, err := events.DialAMQP(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("amqp: %v", err)
		}
		defer func() { _ = conn.Close() }()
		pub, err := events.NewAMQPPublisher(conn)
		if err != nil {
			log.Fatalf("amqp publisher: %v", err)
		}
		defer func() { _ = pub.Close() }()
		srvDeps.Tracker.AddSink(pub)
		log.Printf("publishing coverage events to exchange %s", events.ExchangeName)
	}

	if cfg.Webhook.URL != "" {
		wh := webhooks.NewWorker(webhooks.Target{URL: cfg.Webhook.URL, Secret: cfg.Webhook.Secret, Events: cfg.Webhook.Events}, cfg.Webhook.MaxAttempts)
		wh.Start()
		defer wh.Stop()
		srvDeps.Tracker.AddSink(wh)
		log.Printf("webhook deliveries to %s", cfg.Webhook.URL)
	}

	if cfg.MQTT.Broker != "" {
		client, err := ingest.Connect(ingest.Options{Broker: cfg.MQTT.Broker, ClientID: cfg.MQTT.ClientID})
		if err != nil {
			log.Fatalf("mqtt: %v", err)
		}
		sub := ingest.NewPositionSubscriber(client, srvDeps.Tracker, cfg.MQTT.Topic)
		if err := sub.Start(); err != nil {
			log.Fatalf("mqtt subscribe: %v", err)
		}
		defer func() {
			sub.Stop()
			client.Disconnect(250)
		}()
		log.Printf("MQTT subscriber started on %s", cfg.MQTT.Topic)
	}

	mux := http.NewServeMux()

	// Routes and collectors
	mux.HandleFunc("/v1/routes", srvDeps.RoutesIndexHandler)
	mux.HandleFunc("/v1/routes/", srvDeps.RouteByIDHandler)
	mux.HandleFunc("/v1/collectors", srvDeps.CollectorsIndexHandler)
	mux.HandleFunc("/v1/collectors/", srvDeps.CollectorByIDHandler) // includes /assignments

	// Assignments
	mux.HandleFunc("/v1/assignments", srvDeps.AssignmentsIndexHandler)
	mux.HandleFunc("/v1/assignments/", srvDeps.AssignmentByIDHandler) // includes /position, /cancel, /events/stream

	// Live subscriptions
	mux.HandleFunc("/v1/live/ws", srvDeps.LiveWSHandler)

	// Ops
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/info", srvDeps.DebugJSON)
	mux.HandleFunc("/openapi.yaml", srvDeps.OpenAPIHandler)
	mux.HandleFunc("/docs", srvDeps.DocsHandler)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		path := pathLabel(r.URL.Path)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(dur.Seconds())
		log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
	})
}

// pathLabel replaces the id segment of /v1/{collection}/{id}/... so metric
// labels stay bounded.
func pathLabel(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] != "live" {
		parts[2] = "{id}"
	}
	return "/" + strings.Join(parts, "/")
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"hash/fnv"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/bus"
	"github.com/miradorstack/mirador-resilience/internal/models"
)

var kinds = []string{"timeout", "connection_refused", "deadlock", "rate_limited", "auth_failure", "upstream_5xx"}

type rangeRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	natsURL := flag.String("nats", "", "NATS URL to publish live events to (optional)")
	subject := flag.String("subject", "mirador.resilience.events", "subject for live events")
	interval := flag.Duration("interval", 2*time.Second, "live publish interval")
	flag.Parse()

	logger := log.New(log.Writer(), "events-mock ", log.LstdFlags|log.Lmicroseconds)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/v1/errors/events", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req rangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Start.Before(req.End) {
			http.Error(w, "start and end are required", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"events": synthesize(req.Start, req.End)})
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *natsURL != "" {
		b, err := bus.NewNATSBus(*natsURL, "events-mock", 5*time.Second, nil)
		if err != nil {
			logger.Fatalf("connect nats: %v", err)
		}
		defer b.Close()
		go publishLive(ctx, logger, b, *subject, *interval)
	}

	srv := &http.Server{Addr: *addr, Handler: logRequests(logger, mux)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("server error: %v", err)
		os.Exit(1)
	}
}

// synthesize returns a deterministic set of events for [start, end): a few per minute, with
// severity derived from a hash of the minute so repeated queries agree.
func synthesize(start, end time.Time) []models.ErrorEvent {
	layers := models.AllLayers()
	first := start.Truncate(time.Minute)
	if first.Before(start) {
		first = first.Add(time.Minute)
	}
	events := make([]models.ErrorEvent, 0)
	for minute := first; minute.Before(end) && len(events) < 10000; minute = minute.Add(time.Minute) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(minute.UTC().Format(time.RFC3339)))
		seed := h.Sum32()
		for i := uint32(0); i < seed%4; i++ {
			v := seed >> (i * 3)
			events = append(events, models.ErrorEvent{
				ID:        minute.UTC().Format("200601021504") + "-" + string(rune('a'+i)),
				Timestamp: minute.Add(time.Duration(v%60) * time.Second),
				Layer:     layers[v%uint32(len(layers))],
				Severity:  severityFor(v),
				Kind:      kinds[v%uint32(len(kinds))],
			})
		}
	}
	return events
}

func severityFor(v uint32) models.Severity {
	switch r := v % 100; {
	case r < 2:
		return models.SeverityCritical
	case r < 12:
		return models.SeverityHigh
	case r < 40:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func publishLive(ctx context.Context, logger *log.Logger, b bus.EventBus, subject string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			events := synthesize(now.Add(-interval), now)
			if len(events) == 0 {
				continue
			}
			for i := range events {
				events[i].Timestamp = now
			}
			data, err := json.Marshal(events)
			if err != nil {
				logger.Printf("encode events: %v", err)
				continue
			}
			if err := b.Publish(ctx, subject, data); err != nil {
				logger.Printf("publish events: %v", err)
			}
		}
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

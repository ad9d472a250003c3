// Command event-receiver is a local target for the webhook event sink.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/straja-ai/postscore/internal/events"
)

func main() {
	addr := flag.String("addr", ":8099", "listen address for the event receiver")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", handleEvent)
	mux.HandleFunc("POST /", handleEvent)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("event receiver listening on %s (POST JSON to /events)...", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("receiver error: %v", err)
	}
}

func handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	_ = r.Body.Close()
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var ev events.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Printf("received non-event payload: path=%s len=%d: %v", r.URL.Path, len(body), err)
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	log.Printf("event id=%s request_id=%s delivery_id=%s mode=%s outcome=%s code=%s grade=%s latency_ms=%.1f",
		ev.ID, ev.RequestID, r.Header.Get("X-Postscore-Event-Id"), ev.Mode, ev.Outcome, ev.ErrorCode, ev.Grade, ev.LatencyMs)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, `{"status":"ok"}`)
}

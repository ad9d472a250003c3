package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/straja-ai/postscore/internal/mockprovider"
)

func main() {
	addr := flag.String("addr", "", "listen address (default 127.0.0.1:$MOCK_PROVIDER_PORT or 127.0.0.1:18081)")
	flag.Parse()

	shutdown, baseURL, err := mockprovider.StartMockProvider(*addr)
	if err != nil {
		log.Fatalf("mock gemini: %v", err)
	}
	log.Printf("point model.base_url (or GEMINI_BASE_URL) at %s", baseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		log.Printf("mock gemini shutdown: %v", err)
	}
}

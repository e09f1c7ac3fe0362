// Command weiqr-sidecar is the browser-automation subprocess the Sidecar
// Bridge (C1) launches and dials: it owns the real headless browser and
// speaks the Frame/FrameType control protocol of
// internal/services/sidecarbridge/protocol.go over a WebSocket, plus a
// plain HTTP /healthz the Bridge polls (spec.md §4.1).
package main

import (
	"flag"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

func main() {
	addr := flag.String("addr", ":9222", "listen address for the control channel and health endpoint")
	headless := flag.Bool("headless", true, "run the browser headless")
	flag.Parse()

	logger := arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:       models.LogWriterTypeConsole,
		TimeFormat: "15:04:05.000",
	})

	sessions := newSessionManager(logger, *headless)
	if err := sessions.start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to launch browser")
	}
	defer sessions.stop()

	h := newHub(logger, sessions)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthzHandler)
	mux.HandleFunc("/control", h.ServeHTTP)

	logger.Info().Str("addr", *addr).Msg("weiqr-sidecar listening")
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("sidecar server stopped")
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

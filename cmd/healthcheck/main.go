// Command healthcheck probes the relay's liveness endpoint and exits non-zero
// when the relay is not serving. Intended for container HEALTHCHECK use.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	client := &http.Client{Timeout: 3 * time.Second}
	ctx := context.Background()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL(os.Getenv("HTTP_ADDR"), os.Getenv("HEALTHCHECK_PATH")), nil)
	if err != nil {
		os.Exit(1)
	}
	resp, err := client.Do(req)
	if err != nil {
		os.Exit(1)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

// probeURL builds the local URL for the listen address. Wildcard hosts
// (":8080", "0.0.0.0:8080") are probed on localhost.
func probeURL(addr, path string) string {
	if addr == "" {
		addr = ":8080"
	}
	if path == "" {
		path = "/healthz"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	} else if strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "localhost" + strings.TrimPrefix(addr, "0.0.0.0")
	}
	return "http://" + addr + path
}

package lib

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/daybook-app/daybook/client/data"
	"github.com/daybook-app/daybook/client/hctx"
)

var (
	Version   string = "Unknown"
	GitCommit string = "Unknown"
)

func CheckFatalError(err error) {
	if err != nil {
		_, filename, line, _ := runtime.Caller(1)
		log.Fatalf("daybook v0.%s fatal error at %s:%d: %v", Version, filename, line, err)
	}
}

const DefaultServerHostname = "https://api.daybook.app"

func GetServerHostname() string {
	if server := os.Getenv("DAYBOOK_SERVER"); server != "" {
		return server
	}
	return DefaultServerHostname
}

// A request that never resolves would stall a sync attempt forever, so all
// API calls carry a hard timeout. The background timer keeps firing either
// way.
var apiClient = &http.Client{Timeout: 30 * time.Second}

func ApiGet(ctx context.Context, path string) ([]byte, error) {
	if os.Getenv("DAYBOOK_SIMULATE_NETWORK_ERROR") != "" {
		return nil, fmt.Errorf("simulated network error: dial tcp: lookup api.daybook.app")
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, "GET", GetServerHostname()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET: %w", err)
	}
	addStandardHeaders(ctx, req)
	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to GET %s%s: %w", GetServerHostname(), path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("failed to GET %s%s: status_code=%d", GetServerHostname(), path, resp.StatusCode)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from GET %s%s: %w", GetServerHostname(), path, err)
	}
	duration := time.Since(start)
	hctx.GetLogger().Infof("ApiGet(%#v): %d bytes - %s\n", GetServerHostname()+path, len(respBody), duration.String())
	return respBody, nil
}

func ApiPost(ctx context.Context, path, contentType string, reqBody []byte) ([]byte, error) {
	if os.Getenv("DAYBOOK_SIMULATE_NETWORK_ERROR") != "" {
		return nil, fmt.Errorf("simulated network error: dial tcp: lookup api.daybook.app")
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, "POST", GetServerHostname()+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create POST: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	addStandardHeaders(ctx, req)
	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to POST %s: %w", GetServerHostname()+path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("failed to POST %s: status_code=%d", GetServerHostname()+path, resp.StatusCode)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from POST %s: %w", GetServerHostname()+path, err)
	}
	duration := time.Since(start)
	hctx.GetLogger().Infof("ApiPost(%#v): %d bytes - %s\n", GetServerHostname()+path, len(respBody), duration.String())
	return respBody, nil
}

func addStandardHeaders(ctx context.Context, req *http.Request) {
	config := hctx.GetConf(ctx)
	if config.SessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+config.SessionToken)
	}
	req.Header.Set("X-Daybook-Version", "v0."+Version)
	req.Header.Set("X-Daybook-Device-Id", config.DeviceId)
	req.Header.Set("X-Daybook-User-Id", data.UserId(config.UserSecret))
}

func IsOfflineError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if strings.Contains(err.Error(), "dial tcp: lookup api.daybook.app") ||
		strings.Contains(err.Error(), ": no such host") ||
		strings.Contains(err.Error(), "connect: network is unreachable") ||
		strings.Contains(err.Error(), "read: connection reset by peer") ||
		strings.Contains(err.Error(), ": EOF") ||
		strings.Contains(err.Error(), ": status_code=502") ||
		strings.Contains(err.Error(), ": status_code=503") ||
		strings.Contains(err.Error(), ": i/o timeout") ||
		strings.Contains(err.Error(), "connect: operation timed out") ||
		strings.Contains(err.Error(), "net/http: TLS handshake timeout") ||
		strings.Contains(err.Error(), "context deadline exceeded") ||
		strings.Contains(err.Error(), "connect: connection refused") {
		return true
	}
	if !CanReachDaybookServer(ctx) {
		// If the backend server is down, then treat all errors as offline errors
		return true
	}
	// A truly unexpected error, bubble this up
	return false
}

func CanReachDaybookServer(ctx context.Context) bool {
	_, err := ApiGet(ctx, "/api/v1/ping")
	return err == nil
}

// ResetRemote wipes all server-side data for the authenticated user. Used by
// account-reset flows; local data is untouched.
func ResetRemote(ctx context.Context) error {
	_, err := ApiPost(ctx, "/api/v1/reset", "application/json", []byte("{}"))
	if err != nil {
		return fmt.Errorf("failed to reset server-side data: %w", err)
	}
	return nil
}

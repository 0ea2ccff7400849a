package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker probes a URL and considers 200-399 healthy, matching
// Docker's documented HTTP healthcheck range.
type HTTPChecker struct {
	URL    string
	Method string
}

func (h *HTTPChecker) Check(ctx context.Context, timeout time.Duration) Result {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(checkCtx, method, h.URL, nil)
	if err != nil {
		return Result{Healthy: false, Output: fmt.Sprintf("bad request: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Healthy: false, Output: fmt.Sprintf("request failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 400
	return Result{
		Healthy:   healthy,
		Output:    fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

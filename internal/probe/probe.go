package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Result of a single liveness check. Online means the endpoint produced
// any HTTP response before the deadline; status codes are not inspected
// because the probe only answers "is the process alive and answering",
// not whether the request semantically succeeded.
type Result struct {
	Online  bool
	Latency time.Duration
	Err     error
}

// HTTPProbe performs bounded-timeout HTTP GET liveness checks. It never
// retries internally; retry policy belongs to the caller.
type HTTPProbe struct {
	client *http.Client
}

func New() *HTTPProbe {
	return &HTTPProbe{
		client: &http.Client{
			// Redirect targets may be slow or external; the original
			// response already proves the process is answering.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Check issues one GET against url with the given timeout.
func (p *HTTPProbe) Check(ctx context.Context, url string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Err: fmt.Errorf("build probe request: %w", err)}
	}
	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Result{Latency: latency, Err: err}
	}
	_ = resp.Body.Close()
	return Result{Online: true, Latency: latency}
}

package runtime

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

// NewBaseMuxWithReady returns a mux serving /healthz (process liveness) and /readyz, which
// runs every dependency check in parallel and answers 503 listing the failing ones.
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		failures := RunChecks(r.Context(), 2*time.Second, checks...)
		if len(failures) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(strings.Join(failures, "; ")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// RunChecks executes the checks concurrently, each bounded by timeout, and returns
// "name: error" strings for the ones that failed, sorted by name.
func RunChecks(ctx context.Context, timeout time.Duration, checks ...ReadyCheck) []string {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures []string
	)
	for _, check := range checks {
		if check.Check == nil {
			continue
		}
		wg.Add(1)
		go func(c ReadyCheck) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := c.Check(cctx); err != nil {
				name := c.Name
				if name == "" {
					name = "dependency"
				}
				mu.Lock()
				failures = append(failures, name+": "+err.Error())
				mu.Unlock()
			}
		}(check)
	}
	wg.Wait()
	sort.Strings(failures)
	return failures
}

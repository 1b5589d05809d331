package pprof

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
)

// ListenAndServe exposes the Go profiling endpoints on their own port, kept
// off the public API listener.
func ListenAndServe(addr string) error {
	return fmt.Errorf("pprof listener stopped: %w", http.ListenAndServe(addr, nil))
}

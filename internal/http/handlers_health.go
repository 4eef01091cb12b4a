package httpx

import "net/http"

const healthResponse = `{"status":"ok"}`

// healthHandler answers liveness probes. HEAD gets the headers only.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(healthResponse))
	}
}

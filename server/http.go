package server

import (
	"encoding/json"
	"net/http"

	"github.com/cadetchan/cadet"
	"github.com/cadetchan/cadet/metrics"
)

// Status is the JSON body reported by the handler returned from HTTP.
type Status struct {
	Identity string           `json:"identity"`
	Metrics  metrics.Snapshot `json:"metrics"`
}

// HTTP returns an http.Handler that reports the identity and the current
// metrics of svc as a JSON Status object. Only GET and HEAD are accepted;
// other methods report status 405 (Method Not Allowed).
func HTTP(svc *cadet.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		data, err := json.Marshal(Status{
			Identity: svc.Identity(),
			Metrics:  svc.Metrics(),
		})
		if err != nil {
			http.Error(w, "encoding status failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
		w.Write([]byte("\n"))
	})
}

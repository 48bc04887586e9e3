package httpadmin

import (
	"encoding/json"
	"net/http"
)

type Reloader interface {
	ReloadRules() (name string, err error)
}

type Canceler interface {
	CancelPending(name string) (canceled string, err error)
}

type Server struct {
	rel Reloader
	can Canceler
}

func New(rel Reloader, can Canceler) *Server { return &Server{rel: rel, can: can} }

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/admin/rules/reload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name, err := s.rel.ReloadRules()
		if err != nil {
			http.Error(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "true", "ruleset": name})
	})
	mux.HandleFunc("/admin/actions/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}
		canceled, err := s.can.CancelPending(name)
		if err != nil {
			http.Error(w, "cancel failed: "+err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "true", "user": canceled})
	})
}

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gilesd/giles/internal/hub"
	"github.com/gilesd/giles/internal/table"
)

func ListTables(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []*table.Table, 1)
		select {
		case h.Inbox() <- hub.ListTables{Reply: reply}:
		case <-h.Done():
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}

		var tables []*table.Table
		select {
		case tables = <-reply:
		case <-h.Done():
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}

		infos := make([]table.Info, 0, len(tables))
		for _, t := range tables {
			if info, err := t.Info(); err == nil {
				infos = append(infos, info)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(infos)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

package server

import "net/http"

// Routes builds the HTTP surface: the batch sync endpoint, the
// single-entity endpoints, the realtime socket, and a health probe.
func Routes(svc *ApplyService, hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sync", svc.HandleSync)

	mux.HandleFunc("GET /entities/{type}", svc.HandleListEntities)
	mux.HandleFunc("POST /entities/{type}", svc.HandleCreateEntity)
	mux.HandleFunc("PUT /entities/{type}/{id}", svc.HandleUpdateEntity)
	mux.HandleFunc("DELETE /entities/{type}/{id}", svc.HandleDeleteEntity)

	mux.HandleFunc("GET /ws", HandleWebSocket(hub))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

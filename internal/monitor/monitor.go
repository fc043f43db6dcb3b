// Package monitor is the optional observability HTTP server: process
// liveness, Prometheus metrics, and a read-only WebSocket feed of live
// changes. It runs alongside the TCP protocol server on a separate port;
// a server started with the monitor disabled never starts or listens on
// any of this.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nixstate/sharedstate/internal/hasher"
	"github.com/nixstate/sharedstate/internal/logger"
	"github.com/nixstate/sharedstate/internal/metrics"
	"github.com/nixstate/sharedstate/internal/registry"
	"github.com/nixstate/sharedstate/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Monitor serves /healthz, /metrics, /ws, and / on its own port.
type Monitor struct {
	port   int
	router *httprouter.Router
	server *http.Server
	hub    *wsHub
}

// New builds a Monitor wired to the runtime's live components and
// installs itself as the registry's broadcast observer, so /ws mirrors
// every KEY SP HASH line the TCP protocol emits.
func New(port int, reg *registry.Registry, st *store.Store, h *hasher.Hasher, latency *metrics.LatencyTracker) *Monitor {
	m := &Monitor{
		port:   port,
		router: httprouter.New(),
		hub:    newWSHub(),
	}

	promReg := prometheus.NewRegistry()
	for _, c := range newCollectors(reg, st, h, latency) {
		promReg.MustRegister(c)
	}

	m.router.GET("/healthz", m.handleHealthz)
	m.router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	m.router.GET("/ws", m.handleWS)
	m.router.GET("/", m.handleIndex)

	reg.SetObserver(m.hub.publish)

	return m
}

// Start runs the dashboard hub's fan-out loop and blocks serving HTTP
// until Stop shuts the server down.
func (m *Monitor) Start() error {
	go m.hub.run()

	m.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", m.port),
		Handler: m.router,
	}

	logger.Info("monitor listening on :%d", m.port)
	err := m.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down and stops the dashboard hub.
func (m *Monitor) Stop() error {
	m.hub.stop()
	if m.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return m.server.Shutdown(ctx)
}

func (m *Monitor) handleHealthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (m *Monitor) handleWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	m.hub.serveWS(w, r)
}

func (m *Monitor) handleIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>sharedstate monitor</title></head>
<body>
<h1>sharedstate</h1>
<p>Metrics: <a href="/metrics">/metrics</a></p>
<ul id="changes"></ul>
<script>
  var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.onmessage = function(evt) {
    var change = JSON.parse(evt.data);
    var li = document.createElement("li");
    li.textContent = change.key + " " + change.hash;
    document.getElementById("changes").prepend(li);
  };
</script>
</body>
</html>
`

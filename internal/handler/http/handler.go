package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wampline/relay-service/internal/domain/model"
	"github.com/wampline/relay-service/internal/service"
)

type Handler struct {
	logger   *slog.Logger
	relay    service.Relayer
	hub      *SinkHub
	upgrader websocket.Upgrader
}

func NewHandler(logger *slog.Logger, relay service.Relayer, hub *SinkHub) *Handler {
	return &Handler{
		logger: logger,
		relay:  relay,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/tenants/{tenant}", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Post("/configure", h.configure)
		r.Post("/connect", h.connect)
		r.Post("/disconnect", h.disconnect)
		r.Delete("/", h.remove)

		r.Get("/subscriptions", h.subscriptions)
		r.Post("/subscriptions", h.subscribe)
		r.Delete("/subscriptions/{topic}", h.unsubscribe)

		r.Post("/call", h.call)
		r.Post("/publish", h.publish)

		r.Get("/aliases", h.aliases)
		r.Post("/aliases", h.setAlias)
		r.Delete("/aliases/{alias}", h.removeAlias)

		r.Get("/macros", h.macros)
		r.Post("/macros", h.setMacro)
		r.Delete("/macros/{name}", h.removeMacro)
		r.Post("/macros/{name}/run", h.runMacro)
	})

	r.Get("/sinks/{sink}/ws", h.attachSink)
	return r
}

type connectRequest struct {
	Endpoint string `json:"endpoint,omitempty"`
	Realm    string `json:"realm,omitempty"`
}

type subscribeRequest struct {
	Topic string `json:"topic"`
	Sink  string `json:"sink"`
}

type invokeRequest struct {
	URI    string         `json:"uri"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

type aliasRequest struct {
	Alias string `json:"alias"`
	URI   string `json:"uri"`
}

type macroRequest struct {
	Name string   `json:"name"`
	Op   string   `json:"op"`
	URI  string   `json:"uri"`
	Args []string `json:"args,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	status, cfg := h.relay.Status(id)
	resp := map[string]any{"status": status.String()}
	if cfg != nil {
		resp["endpoint"] = cfg.Endpoint
		resp["realm"] = cfg.Realm
	}
	h.respond(w, http.StatusOK, resp)
}

func (h *Handler) configure(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req connectRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Endpoint == "" || req.Realm == "" {
		h.fail(w, http.StatusBadRequest, errors.New("endpoint and realm are required"))
		return
	}
	if err := h.relay.Configure(r.Context(), id, req.Endpoint, req.Realm); err != nil {
		h.failOp(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"status": model.StatusConfigured.String()})
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req connectRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	if (req.Endpoint == "") != (req.Realm == "") {
		h.fail(w, http.StatusBadRequest, errors.New("if endpoint is specified realm cannot be omitted"))
		return
	}
	report, err := h.relay.Connect(r.Context(), id, req.Endpoint, req.Realm)
	if err != nil {
		h.failOp(w, err)
		return
	}
	resp := map[string]any{"status": model.StatusConnected.String()}
	if report != nil && report.Partial() {
		failed := make(map[string]string, len(report.Failed))
		for topic, ferr := range report.Failed {
			failed[topic] = ferr.Error()
		}
		resp["resubscribed"] = report.Subscribed
		resp["failed"] = failed
	}
	h.respond(w, http.StatusOK, resp)
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	if err := h.relay.Disconnect(r.Context(), id); err != nil {
		h.failOp(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"status": model.StatusConfigured.String()})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	closed, err := h.relay.Remove(r.Context(), id)
	if err != nil {
		h.failOp(w, err)
		return
	}
	select {
	case err := <-closed:
		if err != nil {
			h.logger.Warn("connection close on removal failed", "tenant", id, "error", err)
		}
	case <-r.Context().Done():
	}
	h.respond(w, http.StatusOK, map[string]any{"status": model.StatusUnconfigured.String()})
}

func (h *Handler) subscriptions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	subs, err := h.relay.Subscriptions(id)
	if err != nil {
		h.failOp(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req subscribeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Topic == "" || req.Sink == "" {
		h.fail(w, http.StatusBadRequest, errors.New("topic and sink are required"))
		return
	}
	sink := h.hub.Sink(model.SinkID(req.Sink))
	err := h.relay.Subscribe(r.Context(), id, req.Topic, sink)
	switch {
	case errors.Is(err, model.ErrAlreadySubscribed):
		h.respond(w, http.StatusOK, map[string]any{"result": "already_subscribed", "topic": req.Topic})
	case err != nil:
		h.failOp(w, err)
	default:
		h.respond(w, http.StatusOK, map[string]any{"result": "subscribed", "topic": req.Topic})
	}
}

func (h *Handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	topic := chi.URLParam(r, "topic")
	removed, err := h.relay.Unsubscribe(r.Context(), id, topic)
	switch {
	case err != nil:
		h.failOp(w, err)
	case !removed:
		h.respond(w, http.StatusOK, map[string]any{"result": "not_subscribed", "topic": topic})
	default:
		h.respond(w, http.StatusOK, map[string]any{"result": "unsubscribed", "topic": topic})
	}
}

func (h *Handler) call(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req invokeRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.relay.Call(r.Context(), id, req.URI, req.Args, req.Kwargs)
	if err != nil {
		h.failOp(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"result": result})
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req invokeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.relay.Publish(r.Context(), id, req.URI, req.Args, req.Kwargs); err != nil {
		h.failOp(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"result": "published", "topic": req.URI})
}

func (h *Handler) aliases(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	aliases, err := h.relay.Aliases(id)
	if err != nil {
		h.failOp(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"aliases": aliases})
}

func (h *Handler) setAlias(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req aliasRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Alias == "" || req.URI == "" {
		h.fail(w, http.StatusBadRequest, errors.New("alias and uri are required"))
		return
	}
	previous, err := h.relay.SetAlias(r.Context(), id, req.Alias, req.URI)
	if err != nil {
		h.failOp(w, err)
		return
	}
	resp := map[string]any{"alias": req.Alias, "uri": req.URI}
	if previous != "" {
		resp["previous"] = previous
	}
	h.respond(w, http.StatusOK, resp)
}

func (h *Handler) removeAlias(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	alias := chi.URLParam(r, "alias")
	uri, err := h.relay.RemoveAlias(r.Context(), id, alias)
	if err != nil {
		h.fail(w, http.StatusNotFound, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"alias": alias, "uri": uri})
}

func (h *Handler) macros(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	macros, err := h.relay.Macros(id)
	if err != nil {
		h.failOp(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"macros": macros})
}

func (h *Handler) setMacro(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req macroRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		h.fail(w, http.StatusBadRequest, errors.New("macro name is required"))
		return
	}
	macro := model.Macro{Op: model.MacroOp(req.Op), URI: req.URI, Args: req.Args}
	if err := h.relay.SetMacro(r.Context(), id, req.Name, macro); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"macro": req.Name})
}

func (h *Handler) removeMacro(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if err := h.relay.RemoveMacro(r.Context(), id, name); err != nil {
		h.fail(w, http.StatusNotFound, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"macro": name})
}

func (h *Handler) runMacro(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenant(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	result, err := h.relay.RunMacro(r.Context(), id, name)
	if err != nil {
		h.failOp(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"macro": name, "result": result})
}

// attachSink upgrades the request and keeps the consumer attached to the
// named sink until the socket closes.
func (h *Handler) attachSink(w http.ResponseWriter, r *http.Request) {
	sinkID := model.SinkID(chi.URLParam(r, "sink"))

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "sink", sinkID, "error", err)
		return
	}
	defer ws.Close()

	detach := h.hub.Attach(sinkID, ws)
	defer detach()
	h.logger.Debug("sink consumer attached", "sink", sinkID)

	// Inbound frames are not part of the protocol; the read loop only
	// notices the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (model.TenantID, bool) {
	id, err := model.ParseTenantID(chi.URLParam(r, "tenant"))
	if err != nil {
		h.fail(w, http.StatusBadRequest, errors.New("invalid tenant id"))
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encoding failed", "error", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, code int, err error) {
	h.respond(w, code, map[string]any{"error": err.Error()})
}

// failOp maps the service error taxonomy onto HTTP statuses.
func (h *Handler) failOp(w http.ResponseWriter, err error) {
	var connErr *model.ConnectError
	switch {
	case errors.Is(err, model.ErrNotConfigured):
		h.fail(w, http.StatusNotFound, err)
	case errors.Is(err, model.ErrNotConnected):
		h.fail(w, http.StatusConflict, err)
	case errors.As(err, &connErr):
		h.fail(w, http.StatusBadGateway, err)
	default:
		h.fail(w, http.StatusInternalServerError, err)
	}
}

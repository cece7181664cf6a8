package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pipeforge/internal/app/workspace"
	"pipeforge/internal/domain/pipeline/engine"
	"pipeforge/internal/domain/pipeline/event"
	"pipeforge/internal/domain/pipeline/model"
	applog "pipeforge/internal/platform/log"
)

// ConfigHandler 流水线配置与图编辑 API
type ConfigHandler struct {
	workspace Workspace
	heartbeat time.Duration
}

// NewConfigHandler 创建处理器
func NewConfigHandler(ws Workspace, heartbeat time.Duration) *ConfigHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &ConfigHandler{workspace: ws, heartbeat: heartbeat}
}

// RegisterRoutes 注册路由
func (h *ConfigHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/configs", func(r chi.Router) {
		r.Get("/", h.ListConfigs)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.GetConfig)
			r.Put("/", h.LoadConfig)
			r.Patch("/", h.UpdateConfig)
			r.Delete("/", h.DeleteConfig)

			r.Get("/nodes", h.GetNodes)
			r.Put("/nodes", h.SetNodes)
			r.Get("/nodes/{id}", h.GetNode)
			r.Delete("/nodes/{id}", h.RemoveNode)

			r.Get("/connections", h.GetConnections)
			r.Put("/connections", h.SetConnections)

			r.Put("/plugins/{id}", h.UpdatePlugin)
			r.Post("/sync", h.ForceSync)

			r.Get("/selection", h.GetSelection)
			r.Put("/selection", h.SetSelection)

			r.Get("/events", h.StreamEvents)
		})
	})
}

// open 解析路径中的配置名并打开引擎；失败时已写出响应
func (h *ConfigHandler) open(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	name := chi.URLParam(r, "name")
	eng, err := h.workspace.Open(r.Context(), name)
	if errors.Is(err, workspace.ErrInvalidName) {
		writeError(w, http.StatusBadRequest, "invalid config name")
		return nil, false
	}
	if err != nil {
		applog.Error("[API] Open config failed", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to open config")
		return nil, false
	}
	return eng, true
}

// --- Config ---

func (h *ConfigHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	list, err := h.workspace.List(r.Context())
	if err != nil {
		applog.Error("[API] List configs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list configs")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, eng.GetConfig())
}

// LoadConfig 整体替换并重建图，随后全量同步保存
func (h *ConfigHandler) LoadConfig(w http.ResponseWriter, r *http.Request) {
	h.replaceConfig(w, r, (*engine.Engine).LoadConfig)
}

// UpdateConfig 整体替换，保留布局与选中
func (h *ConfigHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	h.replaceConfig(w, r, (*engine.Engine).UpdateConfig)
}

func (h *ConfigHandler) replaceConfig(w http.ResponseWriter, r *http.Request, apply func(*engine.Engine, *model.Config) bool) {
	var cfg model.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	eng, ok := h.open(w, r)
	if !ok {
		return
	}
	cfg.Name = chi.URLParam(r, "name")
	if !apply(eng, &cfg) {
		writeError(w, http.StatusUnprocessableEntity, "config rejected")
		return
	}
	eng.ForceSync()
	writeJSON(w, http.StatusOK, eng.GetConfig())
}

func (h *ConfigHandler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := h.workspace.Delete(r.Context(), name)
	if errors.Is(err, workspace.ErrInvalidName) {
		writeError(w, http.StatusBadRequest, "invalid config name")
		return
	}
	if err != nil {
		applog.Error("[API] Delete config failed", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete config")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

// --- Graph ---

func (h *ConfigHandler) GetNodes(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, eng.GetNodes())
}

func (h *ConfigHandler) SetNodes(w http.ResponseWriter, r *http.Request) {
	var nodes []model.GraphNode
	if err := json.NewDecoder(r.Body).Decode(&nodes); err != nil || nodes == nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: expected node array")
		return
	}
	eng, ok := h.open(w, r)
	if !ok {
		return
	}
	if !eng.SetNodes(nodes) {
		writeError(w, http.StatusUnprocessableEntity, "nodes rejected")
		return
	}
	writeJSON(w, http.StatusOK, eng.GetNodes())
}

func (h *ConfigHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.open(w, r)
	if !ok {
		return
	}
	node, found := eng.FindNodeByID(chi.URLParam(r, "id"))
	if !found {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *ConfigHandler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.open(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if !eng.RemoveNode(id) {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": id})
}

func (h *ConfigHandler) GetConnections(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, eng.GetConnections())
}

func (h *ConfigHandler) SetConnections(w http.ResponseWriter, r *http.Request) {
	var conns []model.Connection
	if err := json.NewDecoder(r.Body).Decode(&conns); err != nil || conns == nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: expected connection array")
		return
	}
	eng, ok := h.open(w, r)
	if !ok {
		return
	}
	if !eng.SetConnections(conns) {
		writeError(w, http.StatusUnprocessableEntity, "connections rejected")
		return
	}
	writeJSON(w, http.StatusOK, eng.GetConnections())
}

// UpdatePlugin 单插件编辑；路径中的 id 优先于请求体
func (h *ConfigHandler) UpdatePlugin(w http.ResponseWriter, r *http.Request) {
	var req engine.PluginUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	eng, ok := h.open(w, r)
	if !ok {
		return
	}
	req.ID = chi.URLParam(r, "id")
	if _, found := eng.FindNodeByID(req.ID); !found {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	if !eng.UpdatePlugin(req) {
		writeError(w, http.StatusUnprocessableEntity, "plugin update rejected")
		return
	}
	// UpdatePlugin 本身不落盘，由 ForceSync 保存并通知
	eng.ForceSync()
	node, _ := eng.FindNodeByID(req.ID)
	writeJSON(w, http.StatusOK, node)
}

func (h *ConfigHandler) ForceSync(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.open(w, r)
	if !ok {
		return
	}
	eng.ForceSync()
	writeJSON(w, http.StatusAccepted, eng.GetConfig())
}

// --- Selection ---

type selectionBody struct {
	ID *string `json:"id"`
}

func (h *ConfigHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.open(w, r)
	if !ok {
		return
	}
	var body selectionBody
	if id := eng.GetSelectedNode(); id != "" {
		body.ID = &id
	}
	writeJSON(w, http.StatusOK, body)
}

// SetSelection id 为 null 或空串表示取消选中
func (h *ConfigHandler) SetSelection(w http.ResponseWriter, r *http.Request) {
	var body selectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	eng, ok := h.open(w, r)
	if !ok {
		return
	}
	id := ""
	if body.ID != nil {
		id = *body.ID
	}
	if !eng.SetSelectedNode(id) {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// --- Events ---

// StreamEvents 以 SSE 推送引擎事件。连接建立后先推送一份当前快照
func (h *ConfigHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.open(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	name := chi.URLParam(r, "name")
	ch := make(chan event.Event, 64)
	unsubscribe := eng.Bus().SubscribeAll(func(evt event.Event) {
		select {
		case ch <- evt:
		default:
			applog.Warn("[API] Event stream lagging, dropping event", "name", name, "event", evt.Type)
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot := []event.Event{
		event.NewConfigUpdated(eng.GetConfig()),
		event.NewNodesUpdated(eng.GetNodes()),
		event.NewConnectionsUpdated(eng.GetConnections()),
	}
	for _, evt := range snapshot {
		if err := sseWriteEvent(w, flusher, string(evt.Type), evt.Payload); err != nil {
			return
		}
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			applog.Debug("[API] Event stream closed", "name", name)
			return
		case evt := <-ch:
			if err := sseWriteEvent(w, flusher, string(evt.Type), evt.Payload); err != nil {
				applog.Warn("[API] Event stream write failed", "name", name, "error", err)
				return
			}
		case <-ticker.C:
			if err := sseWriteEvent(w, flusher, "heartbeat", map[string]int64{"ts": time.Now().Unix()}); err != nil {
				return
			}
		}
	}
}

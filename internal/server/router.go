package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/notepro/internal/ai"
	"github.com/MarcoPoloResearchLab/notepro/internal/app"
	"github.com/MarcoPoloResearchLab/notepro/internal/editor"
	"github.com/MarcoPoloResearchLab/notepro/internal/notes"
	"github.com/MarcoPoloResearchLab/notepro/internal/search"
	"github.com/MarcoPoloResearchLab/notepro/internal/settings"
	"github.com/MarcoPoloResearchLab/notepro/internal/state"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	noActiveNoteMessage      = "No active note to process."
)

var (
	errMissingApp      = errors.New("app dependency required")
	errMissingRealtime = errors.New("realtime dispatcher dependency required")
)

type Dependencies struct {
	App               *app.App
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.App == nil {
		return nil, errMissingApp
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		app:       deps.App,
		realtime:  deps.Realtime,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router.GET("/state", handler.handleGetState)
	router.GET("/events", handler.handleStream)

	router.POST("/projects", handler.handleAddProject)
	router.PUT("/projects/:id", handler.handleUpdateProject)
	router.DELETE("/projects/:id", handler.handleDeleteProject)

	router.POST("/notes", handler.handleAddNote)
	router.GET("/notes/:id", handler.handleGetNote)
	router.PUT("/notes/:id", handler.handleUpdateNote)
	router.DELETE("/notes/:id", handler.handleDeleteNote)

	router.PUT("/active/project", handler.handleSetActiveProject)
	router.PUT("/active/note", handler.handleSetActiveNote)

	router.GET("/search", handler.handleSearch)

	editorRoutes := router.Group("/editor")
	editorRoutes.POST("/open", handler.handleEditorOpen)
	editorRoutes.GET("/draft", handler.handleEditorDraft)
	editorRoutes.PUT("/title", handler.handleEditorTitle)
	editorRoutes.POST("/blocks", handler.handleEditorAppendBlock)
	editorRoutes.PUT("/blocks/:blockId", handler.handleEditorSetBlock)
	editorRoutes.DELETE("/blocks/:blockId", handler.handleEditorDeleteBlock)
	editorRoutes.POST("/save", handler.handleEditorSave)
	editorRoutes.POST("/close", handler.handleEditorClose)

	router.GET("/settings", handler.handleGetSettings)
	router.PUT("/settings/theme", handler.handleSetTheme)
	router.PUT("/settings/api-key", handler.handleSetAPIKey)
	router.DELETE("/settings/api-key", handler.handleClearAPIKey)
	router.PUT("/settings/builtin-key", handler.handleSetBuiltinKey)

	router.POST("/ai/process", handler.handleProcessNote)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	app       *app.App
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
	heartbeat time.Duration
}

func (h *httpHandler) handleGetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.Store().State())
}

type projectRequestPayload struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

func (h *httpHandler) handleAddProject(c *gin.Context) {
	var request projectRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.dispatch(c, http.StatusCreated, state.AddProject{
		Name:        valueOf(request.Name),
		Description: valueOf(request.Description),
		Color:       valueOf(request.Color),
	})
}

func (h *httpHandler) handleUpdateProject(c *gin.Context) {
	var request projectRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	project, ok := h.app.Store().State().FindProject(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "project_not_found"})
		return
	}
	if request.Name != nil {
		project.Name = *request.Name
	}
	if request.Description != nil {
		project.Description = *request.Description
	}
	if request.Color != nil {
		project.Color = *request.Color
	}
	h.dispatch(c, http.StatusOK, state.UpdateProject{Project: project})
}

func (h *httpHandler) handleDeleteProject(c *gin.Context) {
	h.dispatch(c, http.StatusOK, state.DeleteProject{ID: c.Param("id")})
}

type addNoteRequestPayload struct {
	ProjectID string   `json:"projectId"`
	Title     string   `json:"title"`
	Format    string   `json:"format"`
	Tags      []string `json:"tags"`
}

func (h *httpHandler) handleAddNote(c *gin.Context) {
	var request addNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.dispatch(c, http.StatusCreated, state.AddNote{
		ProjectID: request.ProjectID,
		Title:     request.Title,
		Format:    notes.NoteFormat(strings.ToLower(strings.TrimSpace(request.Format))),
		Tags:      request.Tags,
	})
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	note, ok := h.app.Store().State().FindNote(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	var note notes.Note
	if err := c.ShouldBindJSON(&note); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note.ID = c.Param("id")
	if _, ok := h.app.Store().State().FindNote(note.ID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
		return
	}
	h.dispatch(c, http.StatusOK, state.UpdateNote{Note: note})
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	h.dispatch(c, http.StatusOK, state.DeleteNote{ID: c.Param("id")})
}

type activeRequestPayload struct {
	ID *string `json:"id"`
}

func (h *httpHandler) handleSetActiveProject(c *gin.Context) {
	var request activeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.dispatch(c, http.StatusOK, state.SetActiveProject{ID: valueOf(request.ID)})
}

func (h *httpHandler) handleSetActiveNote(c *gin.Context) {
	var request activeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.dispatch(c, http.StatusOK, state.SetActiveNote{ID: valueOf(request.ID)})
}

type searchResponsePayload struct {
	Query   search.Query `json:"query"`
	Results []notes.Note `json:"results"`
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	var tags []string
	if raw := c.Query("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}
	filters, err := search.ParseFilters(c.Query("format"), c.Query("sortBy"), c.Query("sortDirection"), tags)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filters", "message": err.Error()})
		return
	}
	global, _ := strconv.ParseBool(c.DefaultQuery("global", "false"))
	query := search.Query{Term: c.Query("q"), Global: global, Filters: filters}
	results := search.Run(h.app.Store().State(), query)
	if results == nil {
		results = []notes.Note{}
	}
	c.JSON(http.StatusOK, searchResponsePayload{Query: query, Results: results})
}

type editorOpenRequestPayload struct {
	NoteID string `json:"noteId"`
}

type editorDraftResponsePayload struct {
	Note     notes.Note `json:"note"`
	Modified bool       `json:"modified"`
}

func (h *httpHandler) handleEditorOpen(c *gin.Context) {
	var request editorOpenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.NoteID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.app.Editor().Open(request.NoteID); err != nil {
		h.respondError(c, "editor.open", err)
		return
	}
	h.respondDraft(c)
}

func (h *httpHandler) handleEditorDraft(c *gin.Context) {
	h.respondDraft(c)
}

type editorTitleRequestPayload struct {
	Title string `json:"title"`
}

func (h *httpHandler) handleEditorTitle(c *gin.Context) {
	var request editorTitleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.app.Editor().SetTitle(request.Title); err != nil {
		h.respondError(c, "editor.title", err)
		return
	}
	h.respondDraft(c)
}

type editorBlockRequestPayload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	DataURL string `json:"dataUrl"`
	Alt     string `json:"alt"`
}

func (h *httpHandler) handleEditorAppendBlock(c *gin.Context) {
	var request editorBlockRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	var err error
	switch notes.BlockType(request.Type) {
	case notes.BlockTypeText, "":
		_, err = h.app.Editor().AppendText(request.Content)
	case notes.BlockTypeImage:
		_, err = h.app.Editor().AppendImage(request.DataURL, request.Alt)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_block_type"})
		return
	}
	if err != nil {
		h.respondError(c, "editor.append_block", err)
		return
	}
	h.respondDraft(c)
}

func (h *httpHandler) handleEditorSetBlock(c *gin.Context) {
	var request editorBlockRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.app.Editor().SetTextBlock(c.Param("blockId"), request.Content); err != nil {
		h.respondError(c, "editor.set_block", err)
		return
	}
	h.respondDraft(c)
}

func (h *httpHandler) handleEditorDeleteBlock(c *gin.Context) {
	if err := h.app.Editor().DeleteBlock(c.Param("blockId")); err != nil {
		h.respondError(c, "editor.delete_block", err)
		return
	}
	h.respondDraft(c)
}

func (h *httpHandler) handleEditorSave(c *gin.Context) {
	saved, err := h.app.Editor().Save()
	if err != nil {
		h.respondError(c, "editor.save", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": saved})
}

func (h *httpHandler) handleEditorClose(c *gin.Context) {
	h.app.Editor().Close()
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) respondDraft(c *gin.Context) {
	draft, err := h.app.Editor().Draft()
	if err != nil {
		h.respondError(c, "editor.draft", err)
		return
	}
	c.JSON(http.StatusOK, editorDraftResponsePayload{Note: draft, Modified: h.app.Editor().Modified()})
}

type settingsResponsePayload struct {
	Theme         settings.Theme `json:"theme"`
	UseBuiltinKey bool           `json:"useBuiltinKey"`
	HasAPIKey     bool           `json:"hasApiKey"`
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	ctx := c.Request.Context()
	store := h.app.Settings()
	c.JSON(http.StatusOK, settingsResponsePayload{
		Theme:         store.Theme(ctx),
		UseBuiltinKey: store.UseBuiltinKey(ctx),
		HasAPIKey:     store.APIKey(ctx) != "",
	})
}

func (h *httpHandler) handleSetTheme(c *gin.Context) {
	var theme settings.Theme
	if err := c.ShouldBindJSON(&theme); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := theme.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_theme", "message": err.Error()})
		return
	}
	if err := h.app.Settings().SetTheme(c.Request.Context(), theme); err != nil {
		h.respondError(c, "settings.theme", err)
		return
	}
	h.handleGetSettings(c)
}

type apiKeyRequestPayload struct {
	APIKey string `json:"apiKey"`
}

func (h *httpHandler) handleSetAPIKey(c *gin.Context) {
	var request apiKeyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.app.Settings().SetAPIKey(c.Request.Context(), request.APIKey); err != nil {
		h.respondError(c, "settings.api_key", err)
		return
	}
	h.handleGetSettings(c)
}

func (h *httpHandler) handleClearAPIKey(c *gin.Context) {
	if err := h.app.Settings().ClearAPIKey(c.Request.Context()); err != nil {
		h.respondError(c, "settings.api_key", err)
		return
	}
	h.handleGetSettings(c)
}

type builtinKeyRequestPayload struct {
	Enabled bool `json:"enabled"`
}

func (h *httpHandler) handleSetBuiltinKey(c *gin.Context) {
	var request builtinKeyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.app.Settings().SetUseBuiltinKey(c.Request.Context(), request.Enabled); err != nil {
		h.respondError(c, "settings.builtin_key", err)
		return
	}
	h.handleGetSettings(c)
}

type processRequestPayload struct {
	Instruction string `json:"instruction"`
}

func (h *httpHandler) handleProcessNote(c *gin.Context) {
	var request processRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.app.ProcessActiveNote(c.Request.Context(), request.Instruction)
	if err != nil {
		h.respondError(c, "ai.process", err)
		return
	}
	c.JSON(http.StatusOK, note)
}

type stateEventPayload struct {
	Source string         `json:"source"`
	Action string         `json:"action"`
	State  notes.AppState `json:"state"`
}

type noticeEventPayload struct {
	Source    string           `json:"source"`
	NoteIDs   []string         `json:"noteIds"`
	Format    notes.NoteFormat `json:"format,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

func (h *httpHandler) handleStream(c *gin.Context) {
	ctx := c.Request.Context()
	changes, cancelChanges := h.app.Store().Subscribe(ctx)
	defer cancelChanges()
	notices, cancelNotices := h.realtime.Subscribe(ctx)
	defer cancelNotices()
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case change := <-changes:
			c.SSEvent(RealtimeEventStateChanged, stateEventPayload{
				Source: realtimeSourceBackend,
				Action: string(change.Action),
				State:  change.State,
			})
			return true
		case message := <-notices:
			c.SSEvent(message.EventType, noticeEventPayload{
				Source:    realtimeSourceBackend,
				NoteIDs:   message.NoteIDs,
				Format:    message.Format,
				Timestamp: notes.UnixMillis(message.Timestamp),
			})
			return true
		case moment := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, noticeEventPayload{
				Source:    realtimeSourceBackend,
				Timestamp: notes.UnixMillis(moment),
			})
			return true
		}
	})
}

func (h *httpHandler) dispatch(c *gin.Context, status int, action state.Action) {
	next, err := h.app.Dispatch(action)
	if err != nil {
		h.respondError(c, "dispatch."+strings.ToLower(string(action.Type())), err)
		return
	}
	c.JSON(status, next)
}

func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	var validationErr *state.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "field": validationErr.Field, "message": validationErr.Error()})
	case errors.Is(err, notes.ErrInvalidFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_format", "message": err.Error()})
	case errors.Is(err, settings.ErrInvalidAPIKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_api_key", "message": err.Error()})
	case errors.Is(err, ai.ErrMissingAPIKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": ai.MissingAPIKeyMessage})
	case errors.Is(err, ai.ErrEmptyInstruction):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, app.ErrNoActiveNote):
		c.JSON(http.StatusConflict, gin.H{"error": "no_active_note", "message": noActiveNoteMessage})
	case errors.Is(err, editor.ErrNoNoteOpen):
		c.JSON(http.StatusConflict, gin.H{"error": "no_active_note", "message": err.Error()})
	case errors.Is(err, editor.ErrNoteNotFound), errors.Is(err, notes.ErrBlockNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, editor.ErrNotTextBlock), errors.Is(err, editor.ErrEmptyImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_block", "message": err.Error()})
	case errors.Is(err, ai.ErrCompletionFailed):
		h.logger.Warn("completion failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "completion_failed", "message": err.Error()})
	case errors.Is(err, state.ErrStoreClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_closed"})
	default:
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func valueOf(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

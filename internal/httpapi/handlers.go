package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/HendryAvila/plotline/internal/dispatch"
	"github.com/HendryAvila/plotline/internal/engine"
	"github.com/HendryAvila/plotline/internal/logging"
	"github.com/HendryAvila/plotline/internal/notify"
	"github.com/HendryAvila/plotline/internal/rules"
	"github.com/HendryAvila/plotline/internal/selector"
	"github.com/HendryAvila/plotline/internal/state"
)

type handler struct {
	eng       *engine.Engine
	hub       *notify.Hub
	log       *logging.Logger
	rulesPath string
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error  apiError `json:"error"`
	Result any      `json:"result,omitempty"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, errorEnvelope{Error: apiError{Message: msg, Code: code}})
}

// respondDispatchError maps a rejected or failed dispatch to a status.
func respondDispatchError(c *gin.Context, err error, result any) {
	env := errorEnvelope{Error: apiError{Message: err.Error()}, Result: result}
	status := http.StatusInternalServerError

	var derr *dispatch.Error
	var ferr *dispatch.OperationFailure
	switch {
	case errors.As(err, &derr):
		env.Error.Code = string(derr.Kind)
		switch derr.Kind {
		case dispatch.KindUnknownInstance:
			status = http.StatusNotFound
		case dispatch.KindUnknownOperation:
			status = http.StatusUnprocessableEntity
		default:
			status = http.StatusConflict
		}
	case errors.As(err, &ferr):
		env.Error.Code = "operation_failed"
		env.Error.Message = ferr.Err.Error()
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, env)
}

func (h *handler) health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// --- rules ---

func (h *handler) listRules(c *gin.Context) {
	set := h.eng.Rules()
	var topics []rules.Topic
	if t := c.Query("topic"); t != "" {
		topics = rules.ParseTopics(t)
	}
	c.JSON(http.StatusOK, gin.H{
		"generation": set.Generation(),
		"loaded_at":  set.LoadedAt(),
		"topics":     set.Topics(),
		"rules":      set.Summaries(topics...),
	})
}

func (h *handler) reloadRules(c *gin.Context) {
	set, err := h.eng.ReloadPath(h.rulesPath)
	if err != nil {
		var verr *rules.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, errorEnvelope{Error: apiError{
				Message: "rule set rejected, previous rules stay active",
				Code:    "invalid_rules",
				Details: verr.Issues,
			}})
			return
		}
		respondError(c, http.StatusInternalServerError, "reload_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generation": set.Generation(), "rules": set.Len()})
}

// --- sessions ---

type suggestRequest struct {
	ProjectID string             `json:"project_id"`
	Turn      uint64             `json:"turn"`
	Topics    []string           `json:"topics"`
	Max       int                `json:"max"`
	Focus     map[string]string  `json:"focus"`
	Intents   map[string]float64 `json:"intents"`
	Mentions  []string           `json:"mentions"`
	Params    map[string]any     `json:"params"`
	Message   string             `json:"message"`
}

type confirmRequest struct {
	Params map[string]any `json:"params"`
}

type bindRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
}

func (h *handler) session(c *gin.Context) {
	id := c.Param("session")
	c.JSON(http.StatusOK, gin.H{
		"session": h.eng.Session(id),
		"offers":  h.eng.Offers(id),
	})
}

func (h *handler) forget(c *gin.Context) {
	h.eng.Forget(c.Param("session"))
	c.Status(http.StatusNoContent)
}

func (h *handler) bind(c *gin.Context) {
	var req bindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	id := c.Param("session")
	h.eng.Bind(id, req.ProjectID)
	c.JSON(http.StatusOK, h.eng.Session(id))
}

func (h *handler) suggest(c *gin.Context) {
	var req suggestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
	}
	topics := make([]rules.Topic, 0, len(req.Topics))
	for _, t := range req.Topics {
		topics = append(topics, rules.NormalizeTopic(t))
	}
	conv := state.Conversation{
		SessionID: c.Param("session"),
		Turn:      req.Turn,
		ProjectID: req.ProjectID,
		Focus:     req.Focus,
		Intents:   req.Intents,
		Mentions:  req.Mentions,
		Params:    req.Params,
		Message:   req.Message,
	}
	out, err := h.eng.Suggest(c.Request.Context(), conv, topics, req.Max)
	if err != nil {
		respondError(c, http.StatusBadRequest, "suggest_failed", err)
		return
	}
	if out == nil {
		out = []selector.Instance{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": out})
}

func (h *handler) offers(c *gin.Context) {
	offers := h.eng.Offers(c.Param("session"))
	if offers == nil {
		offers = []dispatch.Offer{}
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

func (h *handler) status(c *gin.Context) {
	offer, err := h.eng.Status(c.Param("session"), c.Param("id"))
	if err != nil {
		respondDispatchError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (h *handler) confirm(c *gin.Context) {
	var req confirmRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
	}
	res, err := h.eng.Confirm(c.Request.Context(), c.Param("session"), c.Param("id"), req.Params)
	if err != nil {
		var result any
		if res.InstanceID != "" {
			result = res
		}
		respondDispatchError(c, err, result)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) cancel(c *gin.Context) {
	offer, err := h.eng.Cancel(c.Param("session"), c.Param("id"))
	if err != nil {
		respondDispatchError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, offer)
}

// events streams the session's notifications until the client leaves.
func (h *handler) events(c *gin.Context) {
	if h.hub == nil {
		respondError(c, http.StatusServiceUnavailable, "no_events", errors.New("event stream is not enabled"))
		return
	}
	client := h.hub.NewClient()
	h.hub.Subscribe(client, c.Param("session"))
	defer h.hub.Close(client)
	h.hub.Serve(c.Writer, c.Request, client)
}

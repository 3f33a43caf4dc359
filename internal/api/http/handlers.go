package http

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/edirooss/zlog/internal/logservice"
	"github.com/edirooss/zlog/internal/zlog"
	"github.com/edirooss/zlog/pkg/jsonx"
)

type handlers struct {
	log *zap.Logger
	svc *logservice.Service

	mu   sync.Mutex
	logs map[string]*logservice.Log
}

func (h *handlers) cache(name string, l *logservice.Log) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.logs == nil {
		h.logs = make(map[string]*logservice.Log)
	}
	h.logs[name] = l
}

// resolve returns a cached, already-opened Log, opening one against the
// backend on first use: the Striper's background workers must survive
// across requests, so handlers never construct one per call.
func (h *handlers) resolve(ctx context.Context, name string) (*logservice.Log, error) {
	h.mu.Lock()
	l, ok := h.logs[name]
	h.mu.Unlock()
	if ok {
		return l, nil
	}

	l, err := h.svc.OpenLog(ctx, name)
	if err != nil {
		return nil, err
	}
	h.cache(name, l)
	return l, nil
}

func (h *handlers) createLog(c *gin.Context) {
	name := c.Param("name")

	l, err := h.svc.CreateLog(c.Request.Context(), name)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
		return
	}
	if err := l.ProposeSequencer(c.Request.Context()); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	h.cache(name, l)
	c.JSON(http.StatusCreated, gin.H{"name": name})
}

type appendRequest struct {
	// Data is base64-encoded to let the JSON body carry arbitrary bytes.
	Data string `json:"data"`
}

func (h *handlers) appendEntry(c *gin.Context) {
	name := c.Param("name")

	var req appendRequest
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "data: invalid base64"})
		return
	}

	l, err := h.resolve(c.Request.Context(), name)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return
	}

	position, err := l.Append(c.Request.Context(), data)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": position})
}

func (h *handlers) readEntry(c *gin.Context) {
	name := c.Param("name")

	position, err := strconv.ParseUint(c.Param("position"), 10, 64)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "position: invalid integer"})
		return
	}

	l, err := h.resolve(c.Request.Context(), name)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return
	}

	data, err := l.Read(c.Request.Context(), position)
	if err != nil {
		_ = c.Error(err)
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, zlog.ErrNotWritten), errors.Is(err, zlog.ErrInvalidEntry), errors.Is(err, zlog.ErrPositionUnmapped):
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": base64.StdEncoding.EncodeToString(data)})
}

type trimRequest struct {
	Upto uint64 `json:"upto"`
}

func (h *handlers) trimLog(c *gin.Context) {
	name := c.Param("name")

	var req trimRequest
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	l, err := h.resolve(c.Request.Context(), name)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return
	}

	if err := l.Trim(c.Request.Context(), req.Upto); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) viewLog(c *gin.Context) {
	name := c.Param("name")

	l, err := h.resolve(c.Request.Context(), name)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return
	}

	view, err := l.View(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	body, err := view.Serialize()
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", append([]byte(`{"epoch":`+strconv.FormatUint(view.Epoch, 10)+`,"view":`), append(body, '}')...))
}

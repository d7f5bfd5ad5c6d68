package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"coroner-assist/internal/app"
	"coroner-assist/internal/store"
	"coroner-assist/internal/transport/http/middleware"
	"coroner-assist/internal/transport/http/response"
)

type ThreadHandler struct {
	threadService *app.ThreadService
}

func NewThreadHandler(threadService *app.ThreadService) *ThreadHandler {
	return &ThreadHandler{threadService: threadService}
}

func (h *ThreadHandler) Create(c *gin.Context) {
	var req store.Thread
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.ID == "" || req.UserID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "id and user_id are required")
		return
	}
	if !middleware.AuthorizeOwner(c, req.UserID) {
		return
	}

	created, err := h.threadService.Create(req)
	if err != nil {
		writeThreadError(c, err, "create thread failed")
		return
	}
	response.OK(c, created)
}

// ListAll returns every owner's threads, or only the caller's when the
// request is authenticated.
func (h *ThreadHandler) ListAll(c *gin.Context) {
	all := h.threadService.ListAll()
	if caller, ok := middleware.AuthUserID(c); ok {
		mine := map[string][]store.Thread{}
		if threads, found := all[caller]; found {
			mine[caller] = threads
		}
		all = mine
	}
	response.OK(c, all)
}

func (h *ThreadHandler) ListByOwner(c *gin.Context) {
	owner := c.Param("owner")
	if !middleware.AuthorizeOwner(c, owner) {
		return
	}
	threads, err := h.threadService.ListByOwner(owner)
	if err != nil {
		writeThreadError(c, err, "list threads failed")
		return
	}
	response.OK(c, threads)
}

func (h *ThreadHandler) Get(c *gin.Context) {
	owner := c.Param("owner")
	if !middleware.AuthorizeOwner(c, owner) {
		return
	}
	thread, err := h.threadService.Get(owner, c.Param("thread_id"))
	if err != nil {
		writeThreadError(c, err, "get thread failed")
		return
	}
	response.OK(c, thread)
}

func (h *ThreadHandler) Update(c *gin.Context) {
	owner := c.Param("owner")
	if !middleware.AuthorizeOwner(c, owner) {
		return
	}
	var req store.Thread
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	updated, err := h.threadService.Update(owner, c.Param("thread_id"), req)
	if err != nil {
		writeThreadError(c, err, "update thread failed")
		return
	}
	response.OK(c, updated)
}

func (h *ThreadHandler) Delete(c *gin.Context) {
	owner := c.Param("owner")
	if !middleware.AuthorizeOwner(c, owner) {
		return
	}
	removed, err := h.threadService.Delete(owner, c.Param("thread_id"))
	if err != nil {
		writeThreadError(c, err, "delete thread failed")
		return
	}
	response.OK(c, removed)
}

func writeThreadError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		response.Error(c, http.StatusBadRequest, response.CodeDuplicateThread, err.Error())
	case errors.Is(err, store.ErrIDMismatch):
		response.Error(c, http.StatusBadRequest, response.CodeIDMismatch, err.Error())
	case errors.Is(err, store.ErrOwnerNotFound):
		response.Error(c, http.StatusNotFound, response.CodeOwnerNotFound, err.Error())
	case errors.Is(err, store.ErrThreadNotFound):
		response.Error(c, http.StatusNotFound, response.CodeThreadNotFound, err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

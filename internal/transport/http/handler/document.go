package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"coroner-assist/internal/app"
	"coroner-assist/internal/pkg/extract"
	"coroner-assist/internal/store"
	"coroner-assist/internal/transport/http/middleware"
	"coroner-assist/internal/transport/http/response"
)

type DocumentHandler struct {
	documentService *app.DocumentService
	maxUploadBytes  int64
}

func NewDocumentHandler(documentService *app.DocumentService, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		maxUploadBytes:  maxUploadBytes,
	}
}

type uploadForm struct {
	UserID string
	Query  string
	Mode   app.Mode
	Files  []app.UploadedFile
}

func (h *DocumentHandler) UploadAndQuery(c *gin.Context) {
	form, ok := h.parseForm(c)
	if !ok {
		return
	}

	result, err := h.documentService.UploadAndQuery(c.Request.Context(), app.QueryInput{
		UserID:     form.UserID,
		DoctorName: c.PostForm("doctor_name"),
		Query:      form.Query,
		Mode:       form.Mode,
		Files:      form.Files,
	})
	if err != nil {
		writeDocumentError(c, err)
		return
	}

	response.OK(c, gin.H{
		"query":          result.Query,
		"answer":         result.Answer,
		"thread_id":      result.ThreadID,
		"uploaded_files": result.UploadedFiles,
		"files":          result.Files,
		"chunks":         result.Chunks,
		"partial":        result.Partial,
	})
}

func (h *DocumentHandler) UploadAndContinueChat(c *gin.Context) {
	form, ok := h.parseForm(c)
	if !ok {
		return
	}

	result, err := h.documentService.UploadAndContinueChat(c.Request.Context(), app.ContinueInput{
		UserID:   form.UserID,
		ThreadID: c.PostForm("thread_id"),
		Query:    form.Query,
		Mode:     form.Mode,
		Files:    form.Files,
	})
	if err != nil {
		writeDocumentError(c, err)
		return
	}

	response.OK(c, gin.H{
		"query":          result.Query,
		"answer":         result.Answer,
		"uploaded_files": result.UploadedFiles,
		"thread_id":      result.ThreadID,
		"user_id":        result.UserID,
		"files":          result.Files,
		"chunks":         result.Chunks,
		"partial":        result.Partial,
	})
}

func (h *DocumentHandler) parseForm(c *gin.Context) (*uploadForm, bool) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	mf, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeTooLarge, "upload exceeds the size limit")
			return nil, false
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return nil, false
	}

	mode, err := app.ParseMode(c.PostForm("mode"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		return nil, false
	}

	userID := strings.TrimSpace(c.PostForm("user_id"))
	if userID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "user_id is required")
		return nil, false
	}
	if !middleware.AuthorizeOwner(c, userID) {
		return nil, false
	}

	return &uploadForm{
		UserID: userID,
		Query:  c.PostForm("query"),
		Mode:   mode,
		Files: lo.Map(mf.File["files"], func(fh *multipart.FileHeader, _ int) app.UploadedFile {
			return app.UploadedFile{
				Filename: fh.Filename,
				Size:     fh.Size,
				Open:     func() (io.ReadCloser, error) { return fh.Open() },
			}
		}),
	}, true
}

func writeDocumentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, extract.ErrUnsupportedType):
		response.Error(c, http.StatusUnsupportedMediaType, response.CodeUnsupportedMedia, err.Error())
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrNoExtractableText):
		response.Error(c, http.StatusBadRequest, response.CodeNoExtractable, err.Error())
	case errors.Is(err, store.ErrOwnerNotFound):
		response.Error(c, http.StatusNotFound, response.CodeOwnerNotFound, err.Error())
	case errors.Is(err, store.ErrThreadNotFound):
		response.Error(c, http.StatusNotFound, response.CodeThreadNotFound, err.Error())
	case errors.Is(err, app.ErrCompletionFailed):
		_ = c.Error(err)
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamFailed, "language model request failed")
	case errors.Is(err, context.DeadlineExceeded):
		response.Error(c, http.StatusGatewayTimeout, response.CodeUpstreamTimeout, "language model request timed out")
	case errors.Is(err, context.Canceled):
		// client went away
		c.Status(499)
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "document query failed")
	}
}

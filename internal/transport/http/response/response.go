package response

import "github.com/gin-gonic/gin"

const (
	CodeBadRequest       = 40000
	CodeDuplicateThread  = 40001
	CodeIDMismatch       = 40002
	CodeNoExtractable    = 40003
	CodeUnauthorized     = 40100
	CodeForbidden        = 40300
	CodeOwnerNotFound    = 40401
	CodeThreadNotFound   = 40402
	CodeTooLarge         = 41300
	CodeUnsupportedMedia = 41500
	CodeInternalServer   = 50000
	CodeUpstreamFailed   = 50200
	CodeUpstreamTimeout  = 50400
)

type ErrorBody struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// OK writes data as the whole body; thread endpoints return bare records.
func OK(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, ErrorBody{
		Code:  code,
		Error: message,
	})
}

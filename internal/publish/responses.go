package publish

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/ormso/internal/model"
	"github.com/roach88/ormso/internal/querysql"
	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/syncer"
	"github.com/roach88/ormso/internal/where"
)

// Error codes of the JSON error envelope.
const (
	CodeBadRequest   = "bad_request"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeInternal     = "internal"
	CodeSyncDisabled = "sync_disabled"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func fail(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: ErrorDetail{Code: code, Message: err.Error()}})
}

// failFor picks the status for an engine error.
func (s *Server) failFor(c *gin.Context, err error) {
	var pe *where.ParseError
	switch {
	case errors.Is(err, model.ErrNotFound):
		fail(c, http.StatusNotFound, CodeNotFound, err)
	case errors.Is(err, syncer.ErrSyncActive), errors.Is(err, syncer.ErrSyncAllActive):
		fail(c, http.StatusConflict, CodeConflict, err)
	case errors.Is(err, syncer.ErrUnknownTable):
		fail(c, http.StatusNotFound, CodeNotFound, err)
	case errors.As(err, &pe),
		querysql.IsCompileError(err),
		errors.Is(err, schema.ErrUnknownField),
		errors.Is(err, schema.ErrAmbiguousAssociation),
		errors.Is(err, schema.ErrInvalidValue),
		errors.Is(err, model.ErrNoItem),
		errors.Is(err, model.ErrNoPrimaryKey):
		fail(c, http.StatusBadRequest, CodeBadRequest, err)
	default:
		s.logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
		fail(c, http.StatusInternalServerError, CodeInternal, err)
	}
}

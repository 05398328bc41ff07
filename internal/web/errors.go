package web

import (
	"net/http"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/lellostore/internal/catalog"
	"github.com/Laisky/lellostore/internal/storage"
	"github.com/Laisky/lellostore/internal/upload"
)

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

// respondInternal logs err and answers with a generic 500.
func respondInternal(c *gin.Context, err error) {
	gmw.GetLogger(c).Error("request failed", zap.Error(err))
	respondError(c, http.StatusInternalServerError, "internal error")
}

// respondCatalogError maps catalog and storage failures.
func respondCatalogError(c *gin.Context, err error, notFound string) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		respondError(c, http.StatusNotFound, notFound)
	case storage.IsCode(err, storage.ErrCodeInvalidPackageName):
		respondError(c, http.StatusBadRequest, "invalid package name")
	default:
		respondInternal(c, err)
	}
}

func uploadStatus(code upload.ErrorCode) int {
	switch code {
	case upload.ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case upload.ErrCodeInvalidFileType,
		upload.ErrCodeInvalidPackageName,
		upload.ErrCodeAabNotSupported,
		upload.ErrCodeInvalidAab,
		upload.ErrCodeParse:
		return http.StatusBadRequest
	case upload.ErrCodeVersionExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondUploadError maps pipeline errors. Server-side failures keep their
// details in the log.
func respondUploadError(c *gin.Context, err error) {
	// the client is gone; nobody reads the response
	if ctxErr := c.Request.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		gmw.GetLogger(c).Info("upload cancelled", zap.Error(err))
		c.Abort()
		return
	}

	typed, ok := upload.AsError(err)
	if !ok {
		respondInternal(c, err)
		return
	}

	status := uploadStatus(typed.Code)
	logger := gmw.GetLogger(c).With(zap.String("code", string(typed.Code)), zap.Error(err))
	message := typed.Message
	if status >= http.StatusInternalServerError {
		logger.Error("upload failed")
		if typed.Code == upload.ErrCodeInternal {
			message = "internal error"
		}
	} else {
		logger.Info("upload rejected")
	}

	c.AbortWithStatusJSON(status, errorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    string(typed.Code),
	})
}

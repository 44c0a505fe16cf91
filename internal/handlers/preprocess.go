package handlers

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/vision-pipeline/internal/logging"
	"github.com/example/vision-pipeline/internal/usecase"
)

// multipartOverhead leaves room for boundaries and part headers on top of
// MaxUploadSize.
const multipartOverhead = 1 << 20

// PreprocessResponse is returned for a stored image.
type PreprocessResponse struct {
	GCSPath   string `json:"gcs_path"`
	MessageID string `json:"message_id,omitempty"`
}

// RegisterPreprocessRoutes wires the preprocess service.
func RegisterPreprocessRoutes(router *gin.Engine, uc *usecase.PreprocessUseCase, authMiddleware gin.HandlerFunc) {
	RegisterHealth(router)

	router.POST("/preprocess", authMiddleware, func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

		file, err := formFile(c, "file", "image")
		if err != nil {
			if isTooLarge(err) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "image exceeds upload limit"})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "image exceeds upload limit"})
			return
		}
		if !acceptedContentType(file.Header.Get("Content-Type")) {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, ErrorResponse{Error: "unsupported content type"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read image"})
			return
		}

		result, err := uc.Preprocess(c.Request.Context(), logging.RequestID(c), data)
		if err != nil {
			var stored string
			if result != nil {
				stored = result.GCSPath
			}
			abortWithError(c, err, stored)
			return
		}

		c.JSON(http.StatusOK, PreprocessResponse{GCSPath: result.GCSPath, MessageID: result.MessageID})
	})
}

func formFile(c *gin.Context, fields ...string) (*multipart.FileHeader, error) {
	var firstErr error
	for _, field := range fields {
		file, err := c.FormFile(field)
		if err == nil {
			return file, nil
		}
		if isTooLarge(err) {
			return nil, err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func acceptedContentType(header string) bool {
	if header == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}

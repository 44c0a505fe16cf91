package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/vision-pipeline/internal/gcs"
	"github.com/example/vision-pipeline/internal/imaging"
	"github.com/example/vision-pipeline/internal/logging"
	"github.com/example/vision-pipeline/internal/notify"
)

// MaxUploadSize bounds an uploaded image.
const MaxUploadSize = 10 << 20

// maxPushSize bounds a Pub/Sub push body or a /classify request.
const maxPushSize = 1 << 20

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	GCSPath string `json:"gcs_path,omitempty"`
}

// RegisterHealth adds the liveness probe shared by both services.
func RegisterHealth(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// statusFor maps a pipeline error to its HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, gcs.ErrInvalidScheme), errors.Is(err, gcs.ErrMalformedPath):
		return http.StatusBadRequest, "Invalid gcs_path"
	case errors.Is(err, gcs.ErrObjectNotFound):
		return http.StatusNotFound, "Image not found"
	case errors.Is(err, imaging.ErrInvalidImage):
		return http.StatusBadRequest, "Invalid image data"
	case errors.Is(err, imaging.ErrEncode):
		return http.StatusInternalServerError, "Encoding failed"
	case errors.Is(err, notify.ErrInvalidEnvelope):
		return http.StatusBadRequest, "Invalid Pub/Sub message"
	case errors.Is(err, notify.ErrQueueUnavailable):
		return http.StatusServiceUnavailable, "Message queue unavailable"
	case errors.Is(err, notify.ErrPublishTimeout):
		return http.StatusGatewayTimeout, "Timed out waiting for publish acknowledgment"
	}

	switch logging.OperationOf(err) {
	case "gcs.put", "gcs.get", "notify.publish":
		return http.StatusBadGateway, "Upstream service failed"
	case "model.classify":
		return http.StatusInternalServerError, "Prediction failed"
	}
	return http.StatusInternalServerError, "Internal error"
}

func abortWithError(c *gin.Context, err error, gcsPath string) {
	status, message := statusFor(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message, GCSPath: gcsPath})
}

func decodeJSON(body []byte, v any) error {
	return json.Unmarshal(body, v)
}

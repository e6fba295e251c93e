package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/rterr"
)

// Codes for failures that never reach the runtime
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
)

// statusFor maps a classified error to the HTTP status returned to callers
func statusFor(err *rterr.Error) int {
	if rterr.IsNotFound(err) {
		return http.StatusNotFound
	}
	switch err.Code {
	case rterr.CodeTimeout:
		return http.StatusGatewayTimeout
	case rterr.CodeRuntime, rterr.CodeSchema:
		return http.StatusUnprocessableEntity
	case rterr.CodeSession:
		return http.StatusConflict
	case rterr.CodeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func ok(c *gin.Context, status int, data gin.H) {
	data["success"] = true
	c.JSON(status, data)
}

// fail renders err as {success:false, error:{code, message, details?}}
func fail(c *gin.Context, err error) {
	var rerr *rterr.Error
	if !errors.As(err, &rerr) {
		rerr = rterr.Wrap(rterr.CodeUnknown, err, "%s", err.Error())
	}
	_ = c.Error(err)
	c.JSON(statusFor(rerr), gin.H{
		"success": false,
		"error":   rterr.ToPayload(rerr),
	})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error": gin.H{
			"code":    CodeInvalidRequest,
			"message": err.Error(),
		},
	})
}

func notFound(c *gin.Context, err error) {
	var payload interface{} = gin.H{"code": CodeNotFound, "message": err.Error()}
	var rerr *rterr.Error
	if errors.As(err, &rerr) {
		payload = rterr.ToPayload(rerr)
	}
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"error":   payload,
	})
}

package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// statusForError maps sentinel errors in a failure chain onto HTTP
// status codes.
func statusForError(err error) (int, bool) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, types.ErrAlreadyInstalled):
		return http.StatusConflict, true
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests, true
	case errors.Is(err, types.ErrNoRelease):
		return http.StatusBadGateway, true
	case errors.Is(err, types.ErrUnsupportedFormat),
		errors.Is(err, types.ErrNoPluginRoot),
		errors.Is(err, types.ErrInvalidManifest),
		errors.Is(err, types.ErrMissingEnv):
		return http.StatusUnprocessableEntity, true
	}
	return 0, false
}

// statusForStep is the fallback when the chain carries no sentinel,
// e.g. verdicts decoded from hook subprocess output.
func statusForStep(step types.Step) int {
	switch step {
	case types.StepURLParsing, types.StepFileExtraction, types.StepValidation, types.StepLifecycleInstall:
		return http.StatusUnprocessableEntity
	case types.StepReleaseLookup, types.StepDownloadExtract:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respond writes a dispatcher result as the engine's JSON envelope.
func respond(c *gin.Context, res *types.Result) {
	if res.Success {
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": res.Message,
			"data":    res.Data,
		})
		return
	}
	writeFailure(c, res)
}

func writeFailure(c *gin.Context, res *types.Result) {
	status := 0
	if res.Err != nil {
		if s, ok := statusForError(res.Err); ok {
			status = s
		}
	}
	if status == 0 {
		status = statusForStep(res.Step)
	}

	body := gin.H{"status": "error", "message": failureMessage(res)}
	if res.Step != "" {
		body["step"] = res.Step
	}
	if oe, ok := types.AsOpError(res.Err); ok {
		if len(oe.Suggestions) > 0 {
			body["suggestions"] = oe.Suggestions
		}
		if len(oe.Details) > 0 {
			body["details"] = oe.Details
		}
	}
	c.JSON(status, body)
}

func failureMessage(res *types.Result) string {
	if res.Error != nil && *res.Error != "" {
		return *res.Error
	}
	if res.Message != "" {
		return res.Message
	}
	return "operation failed"
}

// invalid writes a 422 for input that failed validation before any
// domain call.
func invalid(c *gin.Context, err error) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{"status": "error", "message": err.Error()})
}

// badRequest writes a 400 for a body that would not bind.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": message})
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
}

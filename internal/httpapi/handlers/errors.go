package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/animation-platform/internal/animation"
	"github.com/suPer8Hu/animation-platform/internal/common"
	"github.com/suPer8Hu/animation-platform/internal/jobstore"
)

// respondError maps service errors onto the JSON envelope. data is attached for
// errors that leave a job behind, so callers can still see its id and status.
func (h *Handler) respondError(c *gin.Context, err error, data any) {
	var se *animation.StageError
	switch {
	case errors.Is(err, animation.ErrInvalidRequest):
		common.Fail(c, http.StatusBadRequest, 40001, err.Error())
	case errors.Is(err, animation.ErrNotRetryable):
		common.FailWith(c, http.StatusBadRequest, 40002, err.Error(), data)
	case errors.Is(err, animation.ErrVideoNotReady):
		common.FailWith(c, http.StatusBadRequest, 40003, err.Error(), data)
	case errors.Is(err, animation.ErrInvalidTransition):
		common.FailWith(c, http.StatusBadRequest, 40004, err.Error(), data)
	case errors.Is(err, animation.ErrJobNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "job not found")
	case errors.Is(err, animation.ErrVideoNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "video file not found")
	case errors.Is(err, animation.ErrAccessDenied):
		common.Fail(c, http.StatusForbidden, 40301, "access denied")
	case errors.Is(err, jobstore.ErrUnavailable):
		h.Log.Error("job store unavailable", "path", c.FullPath(), "err", err)
		common.Fail(c, http.StatusServiceUnavailable, 50301, "job store unavailable")
	case errors.As(err, &se):
		common.FailWith(c, http.StatusInternalServerError, 50002, se.Error(), data)
	default:
		h.Log.Error("request failed", "path", c.FullPath(), "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the common error payload for every endpoint
type ErrorResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

// stringPtr creates a pointer to a string
func stringPtr(s string) *string {
	return &s
}

func respondValidationError(c *gin.Context, message string, err error) {
	resp := ErrorResponse{
		Code:    "VALIDATION_ERROR",
		Message: message,
	}
	if err != nil {
		resp.Details = stringPtr(err.Error())
	}
	c.JSON(http.StatusBadRequest, resp)
}

func respondInternalError(c *gin.Context, message string, err error) {
	resp := ErrorResponse{
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if err != nil {
		resp.Details = stringPtr(err.Error())
	}
	c.JSON(http.StatusInternalServerError, resp)
}

// timeRange parses optional RFC3339 start/end query parameters,
// defaulting to the given lookback ending now.
func timeRange(c *gin.Context, lookback time.Duration) (start, end time.Time, err error) {
	end = time.Now()
	start = end.Add(-lookback)

	if raw := c.Query("start"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			return start, end, err
		}
	}
	if raw := c.Query("end"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			return start, end, err
		}
	}
	return start, end, nil
}

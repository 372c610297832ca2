package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/response"
	appValidator "github.com/charlesng35/liveclass/pkg/validator"
)

const dayLayout = "2006-01-02"

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When either step fails the error response is written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}
	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return false
	}
	return true
}

func formatValidationError(err error) string {
	failures, ok := err.(appValidator.ValidationErrors)
	if !ok || len(failures) == 0 {
		return "invalid request payload"
	}

	messages := make([]string, 0, len(failures))
	for _, failure := range failures {
		field := strings.ReplaceAll(failure.Field, "_", " ")
		switch failure.Tag {
		case "required", "notblank":
			messages = append(messages, field+" is required")
		case "min", "gte":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, failure.Param))
		case "max", "lte":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, failure.Param))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(failure.Param, " ", ", ")))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid (%s)", field, failure.Tag))
		}
	}
	return strings.Join(messages, "; ")
}

// parseBoundedIntQuery returns the query value when it is an integer in 1..max, otherwise
// the fallback.
func parseBoundedIntQuery(c *gin.Context, key string, fallback, max int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil || parsed <= 0 || parsed > max {
		return fallback
	}
	return parsed
}

// parseDayQuery reads a YYYY-MM-DD query value as a UTC day, using fallback when absent.
func parseDayQuery(c *gin.Context, key string, fallback time.Time) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	day, err := time.ParseInLocation(dayLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, appErrors.NewBadRequest(key + " must be formatted as YYYY-MM-DD")
	}
	return day, nil
}

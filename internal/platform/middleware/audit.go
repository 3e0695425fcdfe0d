package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/postpartum/tracker/internal/platform/auth"
)

// AccessEntry describes one authenticated request that touched patient data.
type AccessEntry struct {
	AccountID    int64
	PatientID    string
	ResourceType string
	Action       string // read, create, update, delete
	Method       string
	Path         string
	IPAddress    string
	UserAgent    string
	RequestID    string
	StatusCode   int
	Timestamp    time.Time
}

// AccessRecorder persists access entries somewhere other than the log.
type AccessRecorder interface {
	RecordAccess(entry AccessEntry) error
}

// AccessRecorderFunc is a function adapter for AccessRecorder.
type AccessRecorderFunc func(entry AccessEntry) error

func (f AccessRecorderFunc) RecordAccess(entry AccessEntry) error {
	return f(entry)
}

// auditedPrefixes are the route groups serving patient health data.
var auditedPrefixes = []string{
	"/patients/",
	"/observations/",
	"/questionnaire-responses/",
	"/questionnaires/",
	"/symptoms/",
	"/provenance/",
}

// Audit emits one "phi_access" log event per request to a patient-data route
// after the handler has run, and forwards it to any recorders.
func Audit(logger zerolog.Logger, recorders ...AccessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			resourceType := auditedResource(path)
			if resourceType == "" {
				return next(c)
			}

			err := next(c)

			entry := AccessEntry{
				ResourceType: resourceType,
				Action:       httpMethodToAction(req.Method),
				Method:       req.Method,
				Path:         path,
				IPAddress:    c.RealIP(),
				UserAgent:    req.UserAgent(),
				StatusCode:   c.Response().Status,
				Timestamp:    time.Now().UTC(),
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			// The principal is attached further down the chain, so read it
			// from the handler's request.
			if p := auth.PrincipalFromContext(c.Request().Context()); p != nil {
				entry.AccountID = p.AccountID
				if p.HasPatient() {
					entry.PatientID = p.PatientID.String()
				}
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record access entry")
				}
			}

			logger.Info().
				Str("type", "phi_access").
				Str("request_id", entry.RequestID).
				Int64("account_id", entry.AccountID).
				Str("patient_id", entry.PatientID).
				Str("resource_type", entry.ResourceType).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func auditedResource(path string) string {
	for _, prefix := range auditedPrefixes {
		if strings.HasPrefix(path, prefix) || path+"/" == prefix {
			return strings.Trim(prefix, "/")
		}
	}
	return ""
}

// httpMethodToAction maps HTTP methods to audit action codes.
func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

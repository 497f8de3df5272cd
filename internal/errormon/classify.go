// Package errormon implements the Error Monitoring Sink: classification of
// reported errors into category/severity, a rolling ring of recent errors,
// windowed metrics, and edge-triggered alerting.
package errormon

import (
	"errors"
	"strings"

	"dispatch/pkg/apperror"
)

// Category is the error-monitoring bucket a reported error falls into.
type Category string

const (
	CategoryDatabase        Category = "database"
	CategoryAgent           Category = "agent"
	CategoryAPI             Category = "api"
	CategoryValidation      Category = "validation"
	CategoryAuth            Category = "auth" // authn and authz collapse into one bucket
	CategoryExternalService Category = "external_service"
	CategorySystem          Category = "system"
	CategoryUnknown         Category = "unknown"
)

// Severity is a reported error's criticality, independent of Category.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// ReportedError is what a caller hands to Sink.Report: the failed
// operation's error, the service/collaborator it came from, and the HTTP
// status if the failure crossed a wire boundary.
type ReportedError struct {
	Err        error
	Service    string
	HTTPStatus int
}

// Classify runs a pattern-match over code, HTTP status, service name and
// message, in that priority order: an apperror.Error's
// Code is the most specific signal, then HTTP status, then substring
// matches over the service name and message.
func Classify(in ReportedError) (Category, Severity) {
	var appErr *apperror.Error
	if errors.As(in.Err, &appErr) {
		if category, ok := categoryForCode(appErr.Code); ok {
			return category, severityFor(category, appErr)
		}
	}

	if category, ok := categoryForHTTPStatus(in.HTTPStatus); ok {
		return category, severityFor(category, appErr)
	}

	haystack := strings.ToLower(in.Service + " " + errMessage(in.Err))
	category := categoryForKeywords(haystack)
	return category, severityFor(category, appErr)
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func categoryForCode(code apperror.ErrorCode) (Category, bool) {
	switch code {
	case apperror.CodeDatabaseError:
		return CategoryDatabase, true
	case apperror.CodeValidationError:
		return CategoryValidation, true
	case apperror.CodeExternalRouterFailed, apperror.CodeCVRPFailed:
		return CategoryExternalService, true
	case apperror.CodeNotInitialized, apperror.CodeInternal, apperror.CodeTimeout:
		return CategorySystem, true
	case apperror.CodeCooldown, apperror.CodeNoAvailableDrivers, apperror.CodeIllegalTransition, apperror.CodeMaxReassignAttempts:
		return CategoryAgent, true
	default:
		return CategoryUnknown, false
	}
}

func categoryForHTTPStatus(status int) (Category, bool) {
	switch {
	case status == 0:
		return "", false
	case status == 401 || status == 403:
		return CategoryAuth, true
	case status == 400 || status == 422:
		return CategoryValidation, true
	case status >= 500:
		return CategoryExternalService, true
	case status >= 400:
		return CategoryAPI, true
	default:
		return "", false
	}
}

func categoryForKeywords(haystack string) Category {
	switch {
	case containsAny(haystack, "database", "postgres", "pgx", "sql", "query", "transaction"):
		return CategoryDatabase
	case containsAny(haystack, "unauthoriz", "forbidden", "auth", "token", "credential"):
		return CategoryAuth
	case containsAny(haystack, "agent", "cooldown", "trigger", "cycle"):
		return CategoryAgent
	case containsAny(haystack, "routing-engine", "cvrp", "matrix", "external", "collaborator", "upstream"):
		return CategoryExternalService
	case containsAny(haystack, "validation", "invalid", "required field", "malformed"):
		return CategoryValidation
	case containsAny(haystack, "grpc", "http", "endpoint", "request"):
		return CategoryAPI
	case containsAny(haystack, "panic", "deadlock", "out of memory", "goroutine"):
		return CategorySystem
	default:
		return CategoryUnknown
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// severityFor derives a severity: an apperror.Error's own Severity wins
// when present, otherwise the category implies a reasonable default.
func severityFor(category Category, appErr *apperror.Error) Severity {
	if appErr != nil {
		switch appErr.Severity {
		case apperror.SeverityCritical:
			return SeverityCritical
		case apperror.SeverityWarning:
			return SeverityLow
		case apperror.SeverityError:
			return SeverityMedium
		}
	}

	switch category {
	case CategoryDatabase, CategorySystem:
		return SeverityHigh
	case CategoryAuth:
		return SeverityHigh
	case CategoryExternalService:
		return SeverityMedium
	case CategoryValidation:
		return SeverityLow
	case CategoryAgent, CategoryAPI:
		return SeverityMedium
	default:
		return SeverityInfo
	}
}

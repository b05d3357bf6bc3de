package server

import (
	"html/template"
	"net/http"

	apperrors "github.com/jrsteele09/go-smart-launch/internal/errors"
	"github.com/rs/zerolog"
)

// ErrorPageData is the model of templates/error.html. It never carries the
// underlying error text.
type ErrorPageData struct {
	AppName   string
	Code      string
	Title     string
	Message   string
	RequestID string
	Relaunch  bool
}

type errorClass struct {
	status   int
	title    string
	message  string
	relaunch bool
}

var (
	badLaunch = errorClass{
		status:   http.StatusBadRequest,
		title:    "Invalid launch",
		message:  "The launch link was incomplete or invalid. Please launch the app again from your EHR.",
		relaunch: true,
	}
	expiredLaunch = errorClass{
		status:   http.StatusBadRequest,
		title:    "Launch expired",
		message:  "This sign-in has expired or was already used. Please launch the app again from your EHR.",
		relaunch: true,
	}
	unreachable = errorClass{
		status:  http.StatusBadGateway,
		title:   "EHR unavailable",
		message: "The EHR could not be reached or returned an unexpected response. Please try again later or contact your administrator.",
	}
	denied = errorClass{
		status:  http.StatusForbidden,
		title:   "Authorization rejected",
		message: "The authorization server rejected the request. Access was not granted to this app.",
	}
	internal = errorClass{
		status:  http.StatusInternalServerError,
		title:   "Something went wrong",
		message: "An unexpected error occurred. Please try again.",
	}
)

var errorClasses = map[string]errorClass{
	"InvalidIssuer":       badLaunch,
	"MalformedLaunch":     badLaunch,
	"MalformedCallback":   badLaunch,
	"InvalidState":        expiredLaunch,
	"DiscoveryFailed":     unreachable,
	"TokenExchangeFailed": unreachable,
	"AuthorizationDenied": denied,
}

// StatusFor maps an error to the HTTP status of its error page.
func StatusFor(err error) int {
	return classify(err).status
}

func classify(err error) errorClass {
	if class, ok := errorClasses[apperrors.Code(err)]; ok {
		return class
	}
	return internal
}

type errorRenderer struct {
	appName string
	tmpl    *template.Template
}

// render logs err and writes the error page for its taxonomy code.
func (e *errorRenderer) render(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.Code(err)
	class := classify(err)

	event := zerolog.Ctx(r.Context()).Warn()
	if class.status >= http.StatusInternalServerError {
		event = zerolog.Ctx(r.Context()).Error()
	}
	event.Err(err).Str("code", code).Int("status", class.status).Msg("request rejected")

	data := ErrorPageData{
		AppName:   e.appName,
		Code:      code,
		Title:     class.title,
		Message:   class.message,
		RequestID: w.Header().Get(RequestIDHeader),
		Relaunch:  class.relaunch,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(class.status)
	_ = e.tmpl.Execute(w, data)
}

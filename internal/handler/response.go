package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/deskline/servicedesk/internal/apperr"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool                `json:"success"`
	Data    any                 `json:"data,omitempty"`
	Message string              `json:"message,omitempty"`
	Errors  []apperr.FieldError `json:"errors,omitempty"`
	Code    string              `json:"code,omitempty"`
	Detail  string              `json:"detail,omitempty"`
}

// pageMeta accompanies list responses.
type pageMeta struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type listData struct {
	Items any      `json:"items"`
	Meta  pageMeta `json:"pagination"`
}

func writeOK(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func writeCreated(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, envelope{Success: true, Data: data})
}

func writeMessage(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Message: msg})
}

func writePage(c echo.Context, items any, total, pg, limit int) error {
	return writeOK(c, listData{Items: items, Meta: pageMeta{Total: total, Page: pg, Limit: limit}})
}

// bind decodes the request body into dst.  Malformed bodies are reported as
// validation errors rather than echo's plain 400.
func bind(c echo.Context, dst any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		return apperr.Validation(apperr.FieldError{Field: "body", Message: "malformed request body"})
	}
	return nil
}

// NewHTTPErrorHandler renders every error returned by a handler or
// middleware into the response envelope.  Unclassified errors become a
// generic 500; their detail is only exposed when dev is set.
func NewHTTPErrorHandler(dev bool, log logrus.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := render(err, dev)
		if status >= http.StatusInternalServerError {
			log.WithError(err).WithFields(logrus.Fields{
				"method": c.Request().Method,
				"path":   c.Request().URL.Path,
			}).Error("unhandled error")
		}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			log.WithError(werr).Warn("write error response")
		}
	}
}

func render(err error, dev bool) (int, envelope) {
	if ae, found := apperr.As(err); found {
		status := apperr.HTTPStatus(ae.Kind)
		body := envelope{Message: ae.Message, Errors: ae.Fields, Code: ae.Code}
		if ae.Kind == apperr.KindInternal {
			body.Message = "internal server error"
			if dev && ae.Err != nil {
				body.Detail = ae.Error()
			}
		}
		return status, body
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, isString := he.Message.(string); isString && s != "" {
			msg = s
		}
		body := envelope{Message: msg}
		if he.Code >= http.StatusInternalServerError {
			body.Message = "internal server error"
		}
		return he.Code, body
	}

	body := envelope{Message: "internal server error"}
	if dev {
		body.Detail = err.Error()
	}
	return http.StatusInternalServerError, body
}

package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bluesky-social/agora/feed"
	"github.com/bluesky-social/agora/governance"
	"github.com/bluesky-social/agora/scoring"

	"github.com/labstack/echo/v4"
)

// XRPCError is an error with a fixed status and XRPC error name.
type XRPCError struct {
	Status  int
	Code    string
	Message string
}

func (e *XRPCError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badRequest(format string, args ...any) *XRPCError {
	return &XRPCError{Status: http.StatusBadRequest, Code: "InvalidRequest", Message: fmt.Sprintf(format, args...)}
}

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func errorResponse(err error) (int, GenericError) {
	var xerr *XRPCError
	var gerr *governance.Error
	var herr *echo.HTTPError
	switch {
	case errors.As(err, &xerr):
		return xerr.Status, GenericError{Error: xerr.Code, Message: xerr.Message}
	case errors.As(err, &gerr):
		return governance.HTTPStatus(err), GenericError{Error: string(gerr.Code), Message: gerr.Message}
	case errors.Is(err, feed.ErrUnsupportedAlgorithm):
		return http.StatusBadRequest, GenericError{Error: "UnsupportedAlgorithm", Message: err.Error()}
	case errors.Is(err, feed.ErrInvalidLimit), errors.Is(err, feed.ErrMalformedCursor), errors.Is(err, feed.ErrInvalidPin):
		return http.StatusBadRequest, GenericError{Error: "InvalidRequest", Message: err.Error()}
	case errors.Is(err, scoring.ErrPostNotScored):
		return http.StatusNotFound, GenericError{Error: "NotFound", Message: err.Error()}
	case errors.Is(err, scoring.ErrRunInProgress):
		return http.StatusConflict, GenericError{Error: "RunInProgress", Message: err.Error()}
	case errors.Is(err, scoring.ErrNoEpoch):
		return http.StatusConflict, GenericError{Error: string(governance.CodeNoCurrentEpoch), Message: err.Error()}
	case errors.As(err, &herr):
		name := strings.ReplaceAll(http.StatusText(herr.Code), " ", "")
		return herr.Code, GenericError{Error: name, Message: fmt.Sprint(herr.Message)}
	default:
		return http.StatusInternalServerError, GenericError{Error: "InternalServerError", Message: "internal server error"}
	}
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code, body := errorResponse(err)
	if code >= 500 {
		srv.logger.Error("http internal error", "err", err, "path", c.Request().URL.Path)
	}
	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		srv.logger.Warn("failed to write error response", "err", err)
	}
}

package main

import (
	"net/http"

	"github.com/go-chi/render"
)

// ErrResponse renders an error as JSON with a matching status code.
type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func newErrResponse(status int, err error) *ErrResponse {
	resp := &ErrResponse{
		Err:            err,
		HTTPStatusCode: status,
		StatusText:     http.StatusText(status),
	}
	if err != nil {
		resp.ErrorText = err.Error()
	}
	return resp
}

func ErrInvalidRequest(err error) render.Renderer {
	return newErrResponse(http.StatusBadRequest, err)
}

func ErrUnauthorized(err error) render.Renderer {
	return newErrResponse(http.StatusUnauthorized, err)
}

func ErrPermissionDenied(err error) render.Renderer {
	return newErrResponse(http.StatusForbidden, err)
}

// ErrConflict is used when the crane is not in a state to take the request.
func ErrConflict(err error) render.Renderer {
	return newErrResponse(http.StatusConflict, err)
}

func ErrRender(err error) render.Renderer {
	return newErrResponse(http.StatusInternalServerError, err)
}

var ErrNotFound = newErrResponse(http.StatusNotFound, nil)

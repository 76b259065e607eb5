package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lazypower/rekindle/internal/model"
)

const maxBodyBytes = 4 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json field names in validation errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors to status codes. Anything unrecognized is a
// 500 and gets logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve model.ValidationError
		ce model.ConflictError
		ne model.NotFoundError
	)
	resp := errorResponse{}
	switch {
	case errors.As(err, &ve):
		resp.Code, resp.Field, resp.Message = http.StatusBadRequest, ve.Field, ve.Message
	case errors.As(err, &ne):
		resp.Code, resp.Field, resp.Message = http.StatusNotFound, ne.Field, ne.Message
	case errors.As(err, &ce):
		resp.Code, resp.Field, resp.Message = http.StatusConflict, ce.Field, ce.Message
	default:
		s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		resp.Code = http.StatusInternalServerError
	}
	resp.Error = http.StatusText(resp.Code)
	writeJSON(w, resp.Code, resp)
}

// decode reads a JSON body into dst and runs struct validation on it.
func decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return model.NewValidationError("body", "read failed")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return model.NewValidationError("body", "invalid json")
	}
	return check(dst)
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return model.NewValidationError(fieldPath(fe.Namespace()), fmt.Sprintf("failed %q validation", fe.Tag()))
	}
	return model.NewValidationError("body", err.Error())
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

package util

import "errors"

// Response is the envelope every API response is rendered into.
type Response struct {
	Status bool       `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the failure part of the envelope. Clients branch on Type.
type ErrorBody struct {
	Type    Kind           `json:"type"`
	Details map[string]any `json:"details,omitempty"`
}

// Success builds a success envelope.
func Success(data any) Response {
	return Response{Status: true, Data: data}
}

// Failure builds a failure envelope and status code for err. Only the kind
// and the details of an APIError or ValidationError are exposed.
func Failure(err error) (int, Response) {
	kind := KindOf(err)
	body := &ErrorBody{Type: kind}

	var apiErr *APIError
	var validationErr *ValidationError
	switch {
	case errors.As(err, &apiErr):
		if kind != KindInternal && len(apiErr.Details) > 0 {
			body.Details = apiErr.Details
		}
	case errors.As(err, &validationErr):
		if len(validationErr.Fields) > 0 {
			fields := make(map[string]any, len(validationErr.Fields))
			for k, v := range validationErr.Fields {
				fields[k] = v
			}
			body.Details = fields
		}
	}

	return StatusCode(kind), Response{Status: false, Error: body}
}

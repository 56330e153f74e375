package errx

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Response is the JSON body written for a failed request.
type Response struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Type      string         `json:"type"`
	Status    int            `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// ToResponse converts e into a transport body. Causes are never included.
func (e *Error) ToResponse() Response {
	return Response{
		Error:   e.Message,
		Code:    e.Code,
		Type:    string(e.Type),
		Status:  e.HTTPStatus,
		Details: e.Details,
	}
}

// FiberHandler is a fiber.ErrorHandler that renders *Error values with their
// registered status and everything else as an opaque internal error.
func FiberHandler(c *fiber.Ctx, err error) error {
	requestID := c.Get(fiber.HeaderXRequestID)

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(Response{
			Error:     fe.Message,
			Code:      "HTTP_ERROR",
			Type:      string(TypeValidation),
			Status:    fe.Code,
			RequestID: requestID,
		})
	}

	if e, ok := As(err); ok {
		resp := e.ToResponse()
		resp.RequestID = requestID
		return c.Status(e.HTTPStatus).JSON(resp)
	}

	return c.Status(fiber.StatusInternalServerError).JSON(Response{
		Error:     "An unexpected error occurred",
		Code:      "INTERNAL_ERROR",
		Type:      string(TypeInternal),
		Status:    fiber.StatusInternalServerError,
		RequestID: requestID,
	})
}

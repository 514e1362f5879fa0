package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/akave-ai/devlog/internal/auth"
	"github.com/akave-ai/devlog/internal/logpull"
	"github.com/akave-ai/devlog/internal/model"
	"github.com/akave-ai/devlog/internal/response"
)

var validate = validator.New()

// RequestHandler exposes the device log pull exchange. Every route sits
// behind auth.Middleware.
type RequestHandler struct {
	Service *logpull.Service
}

type createRequestBody struct {
	DeviceID string `json:"device_id" validate:"required"`
}

// Create asks a device to upload its logs (POST /logs/request).
func (h *RequestHandler) Create(c echo.Context) error {
	var body createRequestBody
	if err := c.Bind(&body); err != nil {
		return response.BadRequest(c, "invalid JSON body", err.Error())
	}
	if err := validate.Struct(body); err != nil {
		return response.BadRequest(c, "device_id is required", err.Error())
	}
	req, err := h.Service.Create(auth.UserID(c), body.DeviceID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, req, "log request created")
}

// Poll returns the pending request for ?deviceId=, or null (GET /logs/poll).
func (h *RequestHandler) Poll(c echo.Context) error {
	deviceID := c.QueryParam("deviceId")
	if deviceID == "" {
		return response.BadRequest(c, "deviceId query parameter is required", "validation")
	}
	poll, err := h.Service.Poll(auth.UserID(c), deviceID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, poll, "")
}

// Cancel cancels the caller's pending request for ?deviceId= (DELETE /logs/request).
func (h *RequestHandler) Cancel(c echo.Context) error {
	deviceID := c.QueryParam("deviceId")
	if deviceID == "" {
		return response.BadRequest(c, "deviceId query parameter is required", "validation")
	}
	if err := h.Service.Cancel(auth.UserID(c), deviceID); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}

// Upload fulfills a pending request with a batch of entries (POST /logs/upload).
func (h *RequestHandler) Upload(c echo.Context) error {
	var body model.UploadRequest
	if err := c.Bind(&body); err != nil {
		return response.BadRequest(c, "invalid JSON body", err.Error())
	}
	if err := validate.Struct(body); err != nil {
		return response.BadRequest(c, "invalid upload", err.Error())
	}
	meta, err := h.Service.Upload(c.Request().Context(), auth.UserID(c), body)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, meta, "logs uploaded")
}

// ListUploads lists the caller's uploads (GET /logs/uploads).
func (h *RequestHandler) ListUploads(c echo.Context) error {
	list, err := h.Service.ListUploads(c.Request().Context(), auth.UserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, list, "")
}

// GetUpload returns the entries of one upload (GET /logs/uploads/:request_id).
func (h *RequestHandler) GetUpload(c echo.Context) error {
	entries, err := h.Service.GetUpload(c.Request().Context(), auth.UserID(c), c.Param("request_id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, entries, "")
}

// Get returns one of the caller's requests (GET /logs/requests/:id).
func (h *RequestHandler) Get(c echo.Context) error {
	req, err := h.Service.Request(auth.UserID(c), c.Param("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, req, "")
}

// Stats reports lifecycle counts (GET /logs/requests/stats).
func (h *RequestHandler) Stats(c echo.Context) error {
	return response.OK(c, h.Service.Stats(), "")
}

// Register mounts the request routes, each wrapped in authMW.
func (h *RequestHandler) Register(e *echo.Echo, authMW echo.MiddlewareFunc) {
	e.POST("/logs/request", h.Create, authMW)
	e.DELETE("/logs/request", h.Cancel, authMW)
	e.GET("/logs/poll", h.Poll, authMW)
	e.POST("/logs/upload", h.Upload, authMW)
	e.GET("/logs/uploads", h.ListUploads, authMW)
	e.GET("/logs/uploads/:request_id", h.GetUpload, authMW)
	e.GET("/logs/requests/stats", h.Stats, authMW)
	e.GET("/logs/requests/:id", h.Get, authMW)
}

package util

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRequest struct {
	Email string `json:"email" query:"email" validate:"required"`
}

func newErrorApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: CustomErrorHandler})
	app.Get("/fiber", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadRequest, "Email es requerido")
	})
	app.Get("/plain", func(c *fiber.Ctx) error {
		return errors.New("database password is hunter2")
	})
	app.Get("/query", func(c *fiber.Ctx) error {
		req, errs := ReadAndValidateQuery[testRequest](c)
		if errs != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errs)
		}
		return c.SendString(req.Email)
	})
	return app
}

func readError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(data, &body))
	return body
}

func TestCustomErrorHandler(t *testing.T) {
	app := newErrorApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/fiber", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrorResponse{HasAccess: false, Error: "Email es requerido"}, readError(t, resp))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/plain", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, MessageServerError, readError(t, resp).Error)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReadAndValidateQuery(t *testing.T) {
	app := newErrorApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/query?email=a@b.com", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/query", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errs []ValidationErrorResponse
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &errs))
	require.Len(t, errs, 1)
	assert.Equal(t, "testRequest.Email", errs[0].FailedField)
	assert.Equal(t, "required", errs[0].Tag)
}

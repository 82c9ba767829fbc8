package handlers

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/patrickfnielsen/access-portal/internal/models"
	"github.com/patrickfnielsen/access-portal/internal/util"
	"github.com/patrickfnielsen/access-portal/pkg/access"
)

// Messages shown to users. They never tell which resource rejected an email.
const (
	MessageEmailRequired = "Email es requerido"
	MessageConfigError   = "Error de configuración en el servidor"
	MessageNotAuthorized = "Email no autorizado"
	MessageNotReady      = "Servicio no disponible: no hay políticas cargadas"
	MessageSupport       = "Necesito ayuda para entrar a una sesión"
)

type PortalRoutes struct {
	Access *access.Client

	// SupportWhatsApp answers support requests from sessions without a
	// contact of their own.
	SupportWhatsApp string
}

func (r *PortalRoutes) ValidateEmail(c *fiber.Ctx) error {
	req, valErrs := util.ReadAndValidate[models.ValidateEmailRequest](c)
	if valErrs != nil {
		return fiber.NewError(fiber.StatusBadRequest, MessageEmailRequired)
	}

	// verify that the policy has been loaded
	if !r.Access.Ready() {
		return fiber.NewError(fiber.StatusServiceUnavailable, MessageNotReady)
	}

	result, err := r.Access.Validate(c.UserContext(), access.ValidateOptions{
		Email:      req.Email,
		RemoteAddr: c.IP(),
	})
	if err != nil {
		return accessError(err)
	}

	return c.JSON(newValidateEmailResponse(result))
}

func (r *PortalRoutes) ValidateEmailProbe(c *fiber.Ctx) error {
	return c.JSON(models.ProbeResponse{
		Status:   "OK",
		Endpoint: "POST /api/validate-email",
	})
}

// Support returns the help link for the contact stored in the session, or
// the portal's support number.
func (r *PortalRoutes) Support(c *fiber.Ctx) error {
	req := new(models.SupportRequest)
	_ = c.QueryParser(req)

	link := access.SupportLink(req.WhatsApp, r.SupportWhatsApp, MessageSupport)
	if link == "" {
		return fiber.NewError(fiber.StatusNotFound, "Soporte no configurado")
	}

	return c.JSON(models.SupportResponse{Link: link})
}

// DebugValidation shows the raw answer of each validator for an email.
func (r *PortalRoutes) DebugValidation(c *fiber.Ctx) error {
	req, valErrs := util.ReadAndValidateQuery[models.DebugValidationRequest](c)
	if valErrs != nil {
		return fiber.NewError(fiber.StatusBadRequest, MessageEmailRequired)
	}

	inspection, err := r.Access.Inspect(c.UserContext(), req.Email, req.Resource)
	if err != nil {
		return accessError(err)
	}

	return c.JSON(inspection)
}

func newValidateEmailResponse(result *access.Result) models.ValidateEmailResponse {
	response := models.ValidateEmailResponse{
		HasAccess:         result.HasAccess,
		AccessibleServers: result.Servers[:],
	}

	if result.Contact != "" {
		contact := result.Contact
		response.WhatsApp = &contact
	}

	if !result.HasAccess {
		message := MessageNotAuthorized
		response.Error = &message
	}

	return response
}

func accessError(err error) error {
	var validationErr *access.ValidationError
	if errors.As(err, &validationErr) {
		if validationErr.Field == "email" {
			return fiber.NewError(fiber.StatusBadRequest, MessageEmailRequired)
		}
		return fiber.NewError(fiber.StatusBadRequest, validationErr.Error())
	}

	var configErr *access.ConfigError
	if errors.As(err, &configErr) {
		slog.Error("server configuration error", slog.String("missing", strings.Join(configErr.Missing, ",")))
		return fiber.NewError(fiber.StatusInternalServerError, MessageConfigError)
	}

	slog.Error("validation error", slog.String("error", err.Error()))
	return fiber.NewError(fiber.StatusInternalServerError, util.MessageServerError)
}

package models

import "github.com/patrickfnielsen/access-portal/pkg/access"

type ValidateEmailRequest struct {
	Email string `json:"email" form:"email" validate:"required"`
}

type ValidateEmailResponse struct {
	HasAccess         bool                   `json:"hasAccess"`
	AccessibleServers []*access.ServerAccess `json:"accessibleServers"`
	WhatsApp          *string                `json:"whatsapp"`
	Error             *string                `json:"error"`
}

type ProbeResponse struct {
	Status   string `json:"status"`
	Endpoint string `json:"endpoint"`
}

type DebugValidationRequest struct {
	Email    string `query:"email" validate:"required"`
	Resource string `query:"resource"`
}

type SupportRequest struct {
	WhatsApp string `query:"whatsapp"`
}

type SupportResponse struct {
	Link string `json:"link"`
}

// Package models - webhook.go defines the Webhook entity. Incoming webhooks
// carry a validation token and token-location descriptor; outgoing webhooks
// carry a response-dispatch list. The two field groups are mutually exclusive
// and the type is immutable after creation.
package models

import (
	"github.com/lmco/mcf-sub003/internal/apperrors"
	"github.com/lmco/mcf-sub003/internal/refid"
	"github.com/lmco/mcf-sub003/internal/validation"
)

// Webhook types.
const (
	WebhookIncoming = "Incoming"
	WebhookOutgoing = "Outgoing"
)

// WebhookResponse describes one outgoing dispatch target.
type WebhookResponse struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// CA is an optional PEM certificate used to verify the target.
	CA string `json:"ca,omitempty"`
}

// Webhook is identified by a server-assigned UUID rather than a composite ID.
// Reference names the scope that governs access: empty for system-wide, an org
// ID, an "org:project" ID or a full "org:project:branch" ID.
type Webhook struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Triggers    []string `json:"triggers"`
	Reference   string   `json:"reference,omitempty"`

	// Outgoing only.
	Responses []WebhookResponse `json:"responses,omitempty"`

	// Incoming only. Token is stored encrypted at rest.
	Token         string `json:"token,omitempty"`
	TokenLocation string `json:"tokenLocation,omitempty"`

	Custom Custom `json:"custom,omitempty"`
	Metadata
}

func (w *Webhook) RefID() string    { return w.ID }
func (w *Webhook) EntityKind() Kind { return KindWebhook }

// Validate checks the create-time invariants: a known type, at least one
// trigger, type-specific required fields, exclusivity of the type-specific
// field groups, and a well-formed reference when one is set.
func (w *Webhook) Validate() error {
	if err := validation.Name("webhook name", w.Name); err != nil {
		return err
	}
	if len(w.Triggers) == 0 {
		return apperrors.DataFormat("webhook requires at least one trigger")
	}
	switch w.Type {
	case WebhookOutgoing:
		if len(w.Responses) == 0 {
			return apperrors.DataFormat("outgoing webhook requires a responses list")
		}
		if w.Token != "" || w.TokenLocation != "" {
			return apperrors.DataFormat("outgoing webhook cannot carry token fields")
		}
		for _, r := range w.Responses {
			if r.URL == "" {
				return apperrors.DataFormat("webhook response requires a url")
			}
		}
	case WebhookIncoming:
		if w.Token == "" || w.TokenLocation == "" {
			return apperrors.DataFormat("incoming webhook requires token and tokenLocation")
		}
		if len(w.Responses) > 0 {
			return apperrors.DataFormat("incoming webhook cannot carry responses")
		}
	default:
		return apperrors.DataFormat("webhook type %q must be %s or %s", w.Type, WebhookIncoming, WebhookOutgoing)
	}
	if w.Reference != "" {
		if _, err := refid.Parse(w.Reference); err != nil {
			return err
		}
	}
	return validation.CustomData(w.Custom)
}

// UpdatableFields lists the keys an update patch may carry. The type is
// immutable; the resolver additionally rejects the type-specific fields that
// do not belong to this webhook's type.
func (w *Webhook) UpdatableFields() []string {
	return []string{"name", "description", "custom", "archived", "triggers", "responses", "token", "tokenLocation"}
}

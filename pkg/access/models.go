package access

import (
	"context"
	"time"

	"log/slog"
)

// Slots is the fixed number of gated resources.
const Slots = 3

type Verdict int

const (
	Denied Verdict = iota
	Granted
)

func (v Verdict) String() string {
	if v == Granted {
		return "granted"
	}
	return "denied"
}

// Decision is the verdict for a single upstream response. Reason names the
// pipeline stage that produced it, e.g. "reject:error" or "default:allow".
type Decision struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason"`
	JoinURL string  `json:"joinUrl,omitempty"`
	Contact string  `json:"contact,omitempty"`
}

func (d Decision) Granted() bool {
	return d.Verdict == Granted
}

// Resource is one gated resource and the validator that guards it.
type Resource struct {
	Name string
	URL  string
}

// ServerAccess is the client-facing projection of a granted slot.
type ServerAccess struct {
	JoinURL   string `json:"join_url,omitempty"`
	WhatsApp  string `json:"whatsapp,omitempty"`
	Inherited bool   `json:"inherited,omitempty"`
}

type Result struct {
	ID        string               `json:"id"`
	HasAccess bool                 `json:"hasAccess"`
	Decisions [Slots]Decision      `json:"decisions"`
	Servers   [Slots]*ServerAccess `json:"accessibleServers"`
	Contact   string               `json:"whatsapp,omitempty"`
}

type ValidateOptions struct {
	Email      string // address to check, normalized before use
	RemoteAddr string // client ip, recorded in the access log
}

// Probe is the raw view of one upstream call, used by the debug endpoint.
type Probe struct {
	Resource   string   `json:"server"`
	Slot       int      `json:"index"`
	HTTPStatus int      `json:"httpCode"`
	Raw        any      `json:"rawResponse"`
	Error      string   `json:"error,omitempty"`
	Decision   Decision `json:"decision"`
}

type Inspection struct {
	Email     string            `json:"email"`
	Timestamp time.Time         `json:"timestamp"`
	Results   []Probe           `json:"results"`
	Summary   map[string]string `json:"summary"`
}

type AccessLogEvent struct {
	ID          string        `json:"decisionId"`
	Email       string        `json:"email"`
	HasAccess   bool          `json:"hasAccess"`
	Granted     [Slots]bool   `json:"granted"`
	Reasons     [Slots]string `json:"reasons"`
	RequestedBy string        `json:"requestedBy"`
	Timestamp   time.Time     `json:"timestamp"`
}

func (e AccessLogEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("decision_id", e.ID),
		slog.String("email", e.Email),
		slog.Bool("has_access", e.HasAccess),
		slog.Any("granted", e.Granted[:]),
		slog.Any("reasons", e.Reasons[:]),
		slog.String("requested_by", e.RequestedBy),
		slog.Time("timestamp", e.Timestamp))
}

type PolicyProjectUpdate struct {
	Available bool
	OldHash   string
	NewHash   string
}

type PolicyProject struct {
	Url           string
	Branch        string
	SSHKey        []byte
	Hash          string
	PolicyBundles []PolicyBundle
}

type PolicyBundle struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type PolicyUpdater struct {
	eventHandlerFunc func(context.Context, []PolicyBundle)
	project          PolicyProject
}

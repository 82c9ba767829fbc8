package access

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds each upstream call independently.
const DefaultTimeout = 12 * time.Second

type Client struct {
	auditLog    *auditLogger
	evaluator   Evaluator
	httpClient  *http.Client
	resources   [Slots]Resource
	timeout     time.Duration
	inheritance bool
}

type Config struct {
	Resources   [Slots]Resource
	Timeout     time.Duration
	Evaluator   Evaluator    // defaults to the default-allow heuristic
	Inheritance bool         // higher tiers grant the lower ones
	HTTPClient  *http.Client // optional, mostly for tests
	AuditLog    AuditLogConfig
}

type callResult struct {
	reply upstreamReply
	err   error
}

func New(config *Config) (*Client, error) {
	auditLog, err := newAuditLogger(&config.AuditLog)
	if err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	evaluator := config.Evaluator
	if evaluator == nil {
		evaluator = HeuristicEvaluator{Policy: PolicyDefaultAllow}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = defaultRoundTripperClient(timeout)
	}

	client := &Client{
		auditLog:    auditLog,
		evaluator:   evaluator,
		httpClient:  httpClient,
		resources:   config.Resources,
		timeout:     timeout,
		inheritance: config.Inheritance,
	}

	client.auditLog.Start()
	return client, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.auditLog.Stop(ctx)
}

// Ready reports whether the evaluator can make decisions. Only the Rego
// evaluator can be unready, until its first policy is activated.
func (c *Client) Ready() bool {
	if r, ok := c.evaluator.(interface{ Ready() bool }); ok {
		return r.Ready()
	}
	return true
}

// Validate checks the email against every configured validator. Upstream
// failures never fail the call: they deny the affected slot only.
func (c *Client) Validate(ctx context.Context, options ValidateOptions) (*Result, error) {
	email := normalizeEmail(options.Email)
	if email == "" {
		return nil, &ValidationError{Field: "email", Reason: "required"}
	}

	if err := checkResources(c.resources[:]); err != nil {
		return nil, err
	}

	result, err := newResult()
	if err != nil {
		return nil, err
	}

	calls := c.fanOut(ctx, email, c.resources[:])
	for i, call := range calls {
		decision := c.decide(ctx, c.resources[i], i, call)

		result.Decisions[i] = decision
		if decision.Granted() {
			result.Servers[i] = &ServerAccess{JoinURL: decision.JoinURL, WhatsApp: decision.Contact}
			result.HasAccess = true
			if result.Contact == "" {
				result.Contact = decision.Contact
			}
		}
	}

	if c.inheritance {
		result.Servers = ApplyInheritance(result.Servers)
		for i, s := range result.Servers {
			if s != nil && s.Inherited {
				result.Decisions[i] = Decision{Verdict: Granted, Reason: "inherited"}
			}
		}
	}

	outcome := "denied"
	if result.HasAccess {
		outcome = "granted"
	}
	validationsTotal.WithLabelValues(outcome).Inc()

	if err := c.auditLog.Log(newAccessLogEvent(result, email, options.RemoteAddr)); err != nil {
		slog.Error("failed to record access log", slog.String("error", err.Error()))
	}

	return result, nil
}

// Inspect returns the raw answer of every validator, or of the named one,
// together with the decision taken on it.
func (c *Client) Inspect(ctx context.Context, email string, resource string) (*Inspection, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, &ValidationError{Field: "email", Reason: "required"}
	}

	var selected []Resource
	var slots []int
	for i, r := range c.resources {
		if resource == "" || strings.EqualFold(resource, r.Name) {
			selected = append(selected, r)
			slots = append(slots, i)
		}
	}
	if len(selected) == 0 {
		return nil, &ValidationError{Field: "resource", Reason: "unknown resource " + resource}
	}

	if err := checkResources(selected); err != nil {
		return nil, err
	}

	inspection := &Inspection{
		Email:     email,
		Timestamp: time.Now().UTC(),
		Results:   make([]Probe, 0, len(selected)),
		Summary:   make(map[string]string, len(selected)),
	}

	calls := c.fanOut(ctx, email, selected)
	for i, call := range calls {
		probe := Probe{
			Resource:   selected[i].Name,
			Slot:       slots[i],
			HTTPStatus: call.reply.StatusCode,
			Raw:        call.reply.Body,
			Decision:   c.decide(ctx, selected[i], slots[i], call),
		}
		if call.err != nil {
			probe.Error = call.err.Error()
		}

		inspection.Results = append(inspection.Results, probe)
		inspection.Summary[probe.Resource] = summarize(probe)
	}

	return inspection, nil
}

// decide maps a failed call to a denied slot without consulting the
// evaluator.
func (c *Client) decide(ctx context.Context, resource Resource, slot int, call callResult) Decision {
	if call.err != nil {
		return Decision{Verdict: Denied, Reason: "upstream"}
	}

	return c.evaluator.Evaluate(ctx, EvaluationInput{
		Resource: resource.Name,
		Slot:     slot,
		Response: call.reply.Body,
	})
}

func (c *Client) fanOut(ctx context.Context, email string, resources []Resource) []callResult {
	results := make([]callResult, len(resources))

	var g errgroup.Group
	for i, r := range resources {
		i, r := i, r
		g.Go(func() error {
			results[i] = c.call(ctx, r, email)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

func (c *Client) call(ctx context.Context, resource Resource, email string) callResult {
	start := time.Now()
	reply, err := fetch(ctx, c.httpClient, resource, email, c.timeout)
	upstreamDuration.WithLabelValues(resource.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		label := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			label = "timeout"
		}
		upstreamRequestsTotal.WithLabelValues(resource.Name, label).Inc()
		slog.Warn("upstream validation failed",
			slog.String("resource", resource.Name),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return callResult{reply: reply, err: err}
	}

	upstreamRequestsTotal.WithLabelValues(resource.Name, "ok").Inc()
	slog.Debug("upstream validation done",
		slog.String("resource", resource.Name),
		slog.Int("status", reply.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)
	return callResult{reply: reply}
}

func checkResources(resources []Resource) error {
	var missing []string
	for _, r := range resources {
		if strings.TrimSpace(r.URL) == "" {
			missing = append(missing, r.Name)
		}
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func summarize(p Probe) string {
	switch {
	case p.Error != "":
		return "error: " + p.Error
	case p.Decision.Granted():
		return "granted (" + p.Decision.Reason + ")"
	default:
		return "denied (" + p.Decision.Reason + ")"
	}
}

func newResult() (*Result, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}

	return &Result{ID: id.String()}, nil
}

func newAccessLogEvent(result *Result, email string, remoteAddr string) AccessLogEvent {
	event := AccessLogEvent{
		ID:          result.ID,
		Email:       email,
		HasAccess:   result.HasAccess,
		RequestedBy: remoteAddr,
		Timestamp:   time.Now().UTC(),
	}
	for i, d := range result.Decisions {
		event.Granted[i] = d.Granted()
		event.Reasons[i] = d.Reason
	}
	return event
}

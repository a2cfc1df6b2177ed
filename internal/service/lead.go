package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"tryon-edge/internal/client"
	"tryon-edge/internal/config"
	"tryon-edge/internal/metrics"
	"tryon-edge/internal/model"
)

// ErrSubmissionInFlight is returned while another submission from the same
// client has not settled yet.
var ErrSubmissionInFlight = errors.New("a submission is already in progress")

// User-facing result messages.
const (
	MsgSent         = "Thank you! Your request has been sent. We will contact you shortly."
	MsgChatNotFound = "Server configuration error: the notification channel was not found. Please contact the administrator."
	MsgInvalidToken = "Server configuration error: the bot credential is invalid. Please contact the administrator."
	MsgSendFailed   = "Failed to send your request. Please try again later."
	MsgInFlight     = "A submission is already in progress"
)

const (
	notSpecified    = "Not specified"
	timestampLayout = "02.01.2006, 15:04:05"
)

// FieldError reports the first required field missing from a lead form.
type FieldError struct {
	Field string
	Label string
}

func (e *FieldError) Error() string {
	return "missing required field: " + e.Field
}

// Message is the prompt shown next to the form.
func (e *FieldError) Message() string {
	return "Please fill in: " + e.Label
}

// Notifier delivers a formatted lead notification to the operator channel.
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
}

type leadField struct {
	name     string
	label    string
	required bool
	value    func(*model.LeadForm) string
}

// leadFields lists the form fields in form order; validation reports the first
// missing required one.
var leadFields = []leadField{
	{"name", "Name", true, func(f *model.LeadForm) string { return f.Name }},
	{"email", "Email", false, func(f *model.LeadForm) string { return f.Email }},
	{"phone", "Phone", true, func(f *model.LeadForm) string { return f.Phone }},
	{"website", "Website", false, func(f *model.LeadForm) string { return f.Website }},
	{"returns", "Share of returns", true, func(f *model.LeadForm) string { return f.Returns }},
	{"questions", "Customer questions", true, func(f *model.LeadForm) string { return f.Questions }},
	{"solution_interest", "Interest in the solution", true, func(f *model.LeadForm) string { return f.SolutionInterest }},
	{"pilot_ready", "Pilot readiness", true, func(f *model.LeadForm) string { return f.PilotReady }},
	{"pricing", "Pricing plan", true, func(f *model.LeadForm) string { return f.Pricing }},
	{"pricing_model", "Payment model", true, func(f *model.LeadForm) string { return f.PricingModel }},
	{"current_solution", "Current solution", true, func(f *model.LeadForm) string { return f.CurrentSolution }},
	{"timeline", "Timeline", true, func(f *model.LeadForm) string { return f.Timeline }},
}

var notificationTmpl = template.Must(template.New("lead").Parse(`🎯 <b>New lead from the Virtual Try-On landing page</b>

👤 <b>Contacts:</b>
Name: {{.name}}
Email: {{.email}}
Phone: {{.phone}}
Website: {{.website}}

📊 <b>Block 1: Pain</b>
Returns: {{.returns}}
Customer questions: {{.questions}}

💡 <b>Block 2: Interest</b>
Interest in the solution: {{.solution_interest}}
Pilot readiness: {{.pilot_ready}}

💰 <b>Block 3: Money</b>
Pricing plan: {{.pricing}}
Payment model: {{.pricing_model}}

📅 <b>Block 4: Timeline</b>
Current solution: {{.current_solution}}
Planned rollout: {{.timeline}}

🕐 <b>Time:</b> {{.time}}
🆔 {{.id}}`))

// LeadService validates lead forms and forwards them to the operator channel.
type LeadService struct {
	notifier     Notifier
	sanitizer    *bluemonday.Policy
	pricingOther string
	location     *time.Location
	now          func() time.Time
	newID        func() string

	mu       sync.Mutex
	inFlight map[string]struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewLeadService creates a LeadService. The metrics parameter is optional.
func NewLeadService(n Notifier, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*LeadService, error) {
	loc, err := time.LoadLocation(cfg.Lead.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load lead timezone: %w", err)
	}
	return &LeadService{
		notifier:     n,
		sanitizer:    bluemonday.StrictPolicy(),
		pricingOther: cfg.Lead.PricingOtherValue,
		location:     loc,
		now:          time.Now,
		newID:        uuid.NewString,
		inFlight:     make(map[string]struct{}),
		logger:       logger.With("component", "lead_service"),
		metrics:      m,
	}, nil
}

// Validate checks required fields and returns the lead record. The pricing
// "other" field is only required when pricing equals the configured sentinel.
func (s *LeadService) Validate(form *model.LeadForm) (*model.LeadRecord, error) {
	rec := &model.LeadRecord{
		ID:        s.newID(),
		Fields:    make([]model.LeadField, 0, len(leadFields)),
		CreatedAt: s.now().In(s.location),
	}

	for _, f := range leadFields {
		v := strings.TrimSpace(f.value(form))
		if v == "" {
			if f.required {
				return nil, &FieldError{Field: f.name, Label: f.label}
			}
			v = notSpecified
		}

		if f.name == "pricing" && s.pricingOther != "" && v == s.pricingOther {
			other := strings.TrimSpace(form.PricingOther)
			if other == "" {
				return nil, &FieldError{Field: "pricing_other", Label: "Pricing plan (other)"}
			}
			v = s.pricingOther + ": " + other
		}

		rec.Fields = append(rec.Fields, model.LeadField{Name: f.name, Value: v})
	}
	return rec, nil
}

// Compose renders the HTML-mode notification text for a record. Field values
// are reduced to escaped plain text.
func (s *LeadService) Compose(rec *model.LeadRecord) (string, error) {
	data := make(map[string]string, len(rec.Fields)+2)
	for _, f := range rec.Fields {
		data[f.Name] = s.sanitizer.Sanitize(f.Value)
	}
	data["time"] = rec.CreatedAt.Format(timestampLayout)
	data["id"] = rec.ID

	var b strings.Builder
	if err := notificationTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}
	return b.String(), nil
}

// Submit validates the form and sends one notification. At most one submission
// per client key is processed at a time; the slot is released once the call
// settles, whatever its outcome.
func (s *LeadService) Submit(ctx context.Context, clientKey string, form *model.LeadForm) (*model.LeadRecord, error) {
	release, ok := s.acquire(clientKey)
	if !ok {
		s.count("duplicate")
		return nil, ErrSubmissionInFlight
	}
	defer release()

	rec, err := s.Validate(form)
	if err != nil {
		s.count("invalid")
		return nil, err
	}

	text, err := s.Compose(rec)
	if err != nil {
		s.count("failed")
		return nil, err
	}

	if err := s.notifier.SendMessage(ctx, text); err != nil {
		s.count("failed")
		s.logger.Error("lead notification failed", "lead_id", rec.ID, "err", err)
		return rec, fmt.Errorf("notify: %w", err)
	}

	s.count("sent")
	s.logger.Info("lead submitted", "lead_id", rec.ID)
	return rec, nil
}

func (s *LeadService) acquire(key string) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return nil, false
	}
	s.inFlight[key] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}, true
}

func (s *LeadService) count(result string) {
	if s.metrics != nil {
		s.metrics.LeadSubmissions.WithLabelValues(result).Inc()
	}
}

// UserMessage maps a notification failure to the text shown to the visitor.
func UserMessage(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.ErrorCode == 400 && strings.Contains(apiErr.Description, "chat not found"):
			return MsgChatNotFound
		case apiErr.ErrorCode == 401:
			return MsgInvalidToken
		}
		return MsgSendFailed + " (" + apiErr.Raw + ")"
	}
	return MsgSendFailed + " (" + err.Error() + ")"
}

package model

import "time"

// LeadForm holds the raw values posted by the landing page form.
// Both JSON and form-encoded bodies bind to it.
type LeadForm struct {
	Name    string `json:"name" form:"name"`
	Email   string `json:"email" form:"email"`
	Phone   string `json:"phone" form:"phone"`
	Website string `json:"website" form:"website"`

	// Pain
	Returns   string `json:"returns" form:"returns"`
	Questions string `json:"questions" form:"questions"`

	// Interest
	SolutionInterest string `json:"solution_interest" form:"solution_interest"`
	PilotReady       string `json:"pilot_ready" form:"pilot_ready"`

	// Pricing
	Pricing      string `json:"pricing" form:"pricing"`
	PricingOther string `json:"pricing_other" form:"pricing_other"`
	PricingModel string `json:"pricing_model" form:"pricing_model"`

	// Competitors and timeline
	CurrentSolution string `json:"current_solution" form:"current_solution"`
	Timeline        string `json:"timeline" form:"timeline"`
}

// LeadField is a single named value of a LeadRecord.
type LeadField struct {
	Name  string
	Value string
}

// LeadRecord is a validated lead. It lives only for the duration of one notification.
type LeadRecord struct {
	ID        string
	Fields    []LeadField
	CreatedAt time.Time
}

// Get returns the value of the named field, or "" if absent.
func (r *LeadRecord) Get(name string) string {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Package slots models the appointment data collected during a call and
// scores how ready the collection is for a scheduling handoff.
package slots

import (
	"fmt"
	"strings"
	"time"

	"github.com/schedcall/intake-engine/internal/domain"
)

// FieldName identifies one piece of appointment data.
type FieldName string

const (
	FieldPatientName         FieldName = "patient_name"
	FieldCallbackNumber      FieldName = "callback_number"
	FieldDateOfBirth         FieldName = "date_of_birth"
	FieldProviderPreference  FieldName = "provider_preference"
	FieldInsurancePlan       FieldName = "insurance_plan"
	FieldAppointmentType     FieldName = "appointment_type"
	FieldPreferredSchedule   FieldName = "preferred_schedule"
	FieldSpecialRequirements FieldName = "special_requirements"
)

// knownFields guards against extraction inventing field names.
var knownFields = map[FieldName]bool{
	FieldPatientName:         true,
	FieldCallbackNumber:      true,
	FieldDateOfBirth:         true,
	FieldProviderPreference:  true,
	FieldInsurancePlan:       true,
	FieldAppointmentType:     true,
	FieldPreferredSchedule:   true,
	FieldSpecialRequirements: true,
}

// Value is a collected slot value with its extraction confidence.
type Value struct {
	Raw        string  `json:"raw"`
	Normalized string  `json:"normalized"`
	Confidence float64 `json:"confidence"`
}

// Policy configures which fields are required and the confidence floors.
type Policy struct {
	Required        []FieldName
	MinConfidence   float64
	ReadyConfidence float64
}

// PolicyFromConfig builds a Policy from configured field names.
func PolicyFromConfig(required []string, minConfidence, readyConfidence float64) Policy {
	p := Policy{MinConfidence: minConfidence, ReadyConfidence: readyConfidence}
	for _, name := range required {
		p.Required = append(p.Required, FieldName(name))
	}
	return p
}

// Slots is the accumulated appointment data for one call. Mutated only by
// the dialog state machine; the routing engine reads it via counts.
type Slots struct {
	Fields   map[FieldName]Value `json:"fields"`
	Warnings []string            `json:"warnings,omitempty"`
}

// New returns an empty slot collection.
func New() *Slots {
	return &Slots{Fields: make(map[FieldName]Value)}
}

// Filled reports whether a field holds a value at or above the minimum
// confidence. Both conditions must hold; a value alone is not enough.
func (s *Slots) Filled(f FieldName, minConfidence float64) bool {
	v, ok := s.Fields[f]
	return ok && v.Raw != "" && v.Confidence >= minConfidence
}

// ApplyExtraction merges newly extracted fields into the collection. A
// higher-confidence existing value is never overwritten by a lower-
// confidence duplicate. Values that fail validation leave the field
// unfilled and attach a warning; extraction garbage must not kill a call.
func (s *Slots) ApplyExtraction(extraction map[string]domain.ExtractedValue) {
	for name, ev := range extraction {
		f := FieldName(name)
		if !knownFields[f] {
			s.warn(fmt.Sprintf("unknown field %q ignored", name))
			continue
		}
		raw := strings.TrimSpace(ev.Value)
		if raw == "" {
			continue
		}
		norm, err := normalize(f, raw)
		if err != nil {
			s.warn(fmt.Sprintf("field %s: %v", f, err))
			continue
		}
		if existing, ok := s.Fields[f]; ok && existing.Confidence > ev.Confidence {
			continue
		}
		s.Fields[f] = Value{Raw: raw, Normalized: norm, Confidence: ev.Confidence}
	}
}

// Clear drops a field, used when the caller disputes a collected value.
func (s *Slots) Clear(f FieldName) {
	delete(s.Fields, f)
}

// Readiness reports whether the collection can be handed off: every
// required field filled, and mean required-field confidence at or above
// the policy threshold. Exactly the threshold passes.
func (s *Slots) Readiness(p Policy) (ready bool, missing []FieldName, score float64) {
	var sum float64
	for _, f := range p.Required {
		if !s.Filled(f, p.MinConfidence) {
			missing = append(missing, f)
			continue
		}
		sum += s.Fields[f].Confidence
	}
	if len(missing) > 0 || len(p.Required) == 0 {
		return false, missing, 0
	}
	score = sum / float64(len(p.Required))
	return score >= p.ReadyConfidence, missing, score
}

// Confidence returns a field's confidence, zero when unset.
func (s *Slots) Confidence(f FieldName) float64 {
	return s.Fields[f].Confidence
}

func (s *Slots) warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

var dobLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"01-02-2006",
}

// normalize validates and canonicalizes a raw value per field type.
func normalize(f FieldName, raw string) (string, error) {
	switch f {
	case FieldDateOfBirth:
		return normalizeDOB(raw)
	case FieldCallbackNumber:
		return normalizePhone(raw)
	default:
		return strings.Join(strings.Fields(raw), " "), nil
	}
}

func normalizeDOB(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	for _, layout := range dobLayouts {
		t, err := time.Parse(layout, trimmed)
		if err != nil {
			continue
		}
		if t.After(time.Now()) {
			return "", fmt.Errorf("date of birth %q is in the future", raw)
		}
		if t.Year() < 1900 {
			return "", fmt.Errorf("date of birth %q is implausibly old", raw)
		}
		return t.Format("2006-01-02"), nil
	}
	return "", fmt.Errorf("unparseable date %q", raw)
}

func normalizePhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) != 10 {
		return "", fmt.Errorf("phone number %q does not have 10 digits", raw)
	}
	return d, nil
}

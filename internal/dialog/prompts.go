package dialog

import (
	"strings"

	"github.com/schedcall/intake-engine/internal/slots"
)

// Scripted prompt text. The voice layer renders these into the call; the
// engine keeps them deterministic so transitions are testable.
const (
	promptGreeting = "Hi, you've reached the scheduling assistant. This call is recorded " +
		"to help book your appointment. Is that okay?"
	promptConsentRetry = "Sorry, I need a yes or no: may we continue with this recorded call?"
	promptIntent       = "Great, thank you. What can I help you schedule today?"
	promptClarify      = "I'm sorry, I didn't quite catch that. Could you say it again?"
	promptHandoff      = "You're all set. I'm transferring you now to finish booking your appointment."
	promptEscalation   = "Let me connect you with a member of our staff who can help."
	promptApology      = "I'm sorry, we're having technical trouble right now. " +
		"Let me connect you with a member of our staff."
	promptCancelled = "No problem. Thanks for calling, goodbye."
)

var fieldQuestions = map[slots.FieldName]string{
	slots.FieldPatientName:         "Could I get the patient's full name?",
	slots.FieldCallbackNumber:      "What's the best phone number to reach you?",
	slots.FieldDateOfBirth:         "What is the patient's date of birth?",
	slots.FieldProviderPreference:  "Is there a particular doctor you'd like to see?",
	slots.FieldInsurancePlan:       "Which insurance plan will you be using?",
	slots.FieldAppointmentType:     "What kind of appointment do you need?",
	slots.FieldPreferredSchedule:   "What days or times work best for you?",
	slots.FieldSpecialRequirements: "Is there anything else we should know before your visit?",
}

// askFor returns the question for the first missing field.
func askFor(missing []slots.FieldName) string {
	if len(missing) == 0 {
		return promptClarify
	}
	if q, ok := fieldQuestions[missing[0]]; ok {
		return q
	}
	return "Could you share your " + strings.ReplaceAll(string(missing[0]), "_", " ") + "?"
}

// confirmationPrompt summarizes collected fields for caller confirmation.
// Values are spoken back to the caller only; this string never crosses
// the redaction boundary into logs or storage.
func confirmationPrompt(s *slots.Slots, required []slots.FieldName) string {
	var parts []string
	for _, f := range required {
		if v, ok := s.Fields[f]; ok {
			parts = append(parts, strings.ReplaceAll(string(f), "_", " ")+" "+v.Raw)
		}
	}
	if len(parts) == 0 {
		return "Let me confirm what I have. Is everything correct?"
	}
	return "Let me confirm: I have " + strings.Join(parts, ", ") + ". Is that all correct?"
}

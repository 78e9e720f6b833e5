package slots

import (
	"strings"
	"testing"

	"github.com/schedcall/intake-engine/internal/domain"
)

func testPolicy() Policy {
	return Policy{
		Required:        []FieldName{FieldPatientName, FieldDateOfBirth},
		MinConfidence:   0.5,
		ReadyConfidence: 0.8,
	}
}

func TestApplyExtraction(t *testing.T) {
	t.Run("fills known fields", func(t *testing.T) {
		s := New()
		s.ApplyExtraction(map[string]domain.ExtractedValue{
			"patient_name":  {Value: "John Smith", Confidence: 0.9},
			"date_of_birth": {Value: "03/15/1985", Confidence: 0.85},
		})
		if !s.Filled(FieldPatientName, 0.5) {
			t.Error("patient_name should be filled")
		}
		if got := s.Fields[FieldDateOfBirth].Normalized; got != "1985-03-15" {
			t.Errorf("date_of_birth normalized = %q, want 1985-03-15", got)
		}
	})

	t.Run("higher confidence is never overwritten by lower", func(t *testing.T) {
		s := New()
		s.ApplyExtraction(map[string]domain.ExtractedValue{
			"patient_name": {Value: "John Smith", Confidence: 0.9},
		})
		s.ApplyExtraction(map[string]domain.ExtractedValue{
			"patient_name": {Value: "Jim Smythe", Confidence: 0.6},
		})
		if got := s.Fields[FieldPatientName].Raw; got != "John Smith" {
			t.Errorf("patient_name = %q, want John Smith", got)
		}
	})

	t.Run("higher confidence replaces lower", func(t *testing.T) {
		s := New()
		s.ApplyExtraction(map[string]domain.ExtractedValue{
			"patient_name": {Value: "Jon Smith", Confidence: 0.6},
		})
		s.ApplyExtraction(map[string]domain.ExtractedValue{
			"patient_name": {Value: "John Smith", Confidence: 0.9},
		})
		if got := s.Fields[FieldPatientName].Raw; got != "John Smith" {
			t.Errorf("patient_name = %q, want John Smith", got)
		}
	})

	t.Run("unknown field ignored with warning", func(t *testing.T) {
		s := New()
		s.ApplyExtraction(map[string]domain.ExtractedValue{
			"favorite_color": {Value: "blue", Confidence: 0.9},
		})
		if len(s.Fields) != 0 {
			t.Errorf("expected no fields, got %d", len(s.Fields))
		}
		if len(s.Warnings) != 1 {
			t.Fatalf("expected 1 warning, got %d", len(s.Warnings))
		}
	})

	t.Run("malformed date leaves field unfilled with warning", func(t *testing.T) {
		s := New()
		s.ApplyExtraction(map[string]domain.ExtractedValue{
			"date_of_birth": {Value: "the day after tomorrow", Confidence: 0.9},
		})
		if s.Filled(FieldDateOfBirth, 0.5) {
			t.Error("unparseable date must not fill the field")
		}
		if len(s.Warnings) != 1 {
			t.Fatalf("expected 1 warning, got %d", len(s.Warnings))
		}
		if !strings.Contains(s.Warnings[0], "date_of_birth") {
			t.Errorf("warning should name the field: %q", s.Warnings[0])
		}
	})

	t.Run("future date of birth rejected", func(t *testing.T) {
		s := New()
		s.ApplyExtraction(map[string]domain.ExtractedValue{
			"date_of_birth": {Value: "2099-01-01", Confidence: 0.9},
		})
		if s.Filled(FieldDateOfBirth, 0.5) {
			t.Error("future date of birth must not fill the field")
		}
	})

	t.Run("empty value is skipped silently", func(t *testing.T) {
		s := New()
		s.ApplyExtraction(map[string]domain.ExtractedValue{
			"patient_name": {Value: "   ", Confidence: 0.9},
		})
		if len(s.Fields) != 0 || len(s.Warnings) != 0 {
			t.Errorf("blank value should be a no-op, fields=%d warnings=%d", len(s.Fields), len(s.Warnings))
		}
	})
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"formatted", "(555) 123-4567", "5551234567", false},
		{"with country code", "+1 555 123 4567", "5551234567", false},
		{"bare digits", "5551234567", "5551234567", false},
		{"too short", "123-4567", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.ApplyExtraction(map[string]domain.ExtractedValue{
				"callback_number": {Value: tt.raw, Confidence: 0.9},
			})
			if tt.wantErr {
				if s.Filled(FieldCallbackNumber, 0.5) {
					t.Errorf("expected %q to be rejected", tt.raw)
				}
				return
			}
			if got := s.Fields[FieldCallbackNumber].Normalized; got != tt.want {
				t.Errorf("normalized = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadiness(t *testing.T) {
	fill := func(s *Slots, conf float64) {
		s.ApplyExtraction(map[string]domain.ExtractedValue{
			"patient_name":  {Value: "John Smith", Confidence: conf},
			"date_of_birth": {Value: "1985-03-15", Confidence: conf},
		})
	}

	t.Run("missing required fields block readiness", func(t *testing.T) {
		s := New()
		s.ApplyExtraction(map[string]domain.ExtractedValue{
			"patient_name": {Value: "John Smith", Confidence: 0.9},
		})
		ready, missing, _ := s.Readiness(testPolicy())
		if ready {
			t.Error("should not be ready with a required field missing")
		}
		if len(missing) != 1 || missing[0] != FieldDateOfBirth {
			t.Errorf("missing = %v, want [date_of_birth]", missing)
		}
	})

	t.Run("exactly the threshold passes", func(t *testing.T) {
		s := New()
		fill(s, 0.8)
		ready, missing, score := s.Readiness(testPolicy())
		if !ready {
			t.Errorf("score %v at the threshold should be ready", score)
		}
		if len(missing) != 0 {
			t.Errorf("missing = %v, want none", missing)
		}
	})

	t.Run("just below the threshold fails", func(t *testing.T) {
		s := New()
		fill(s, 0.7999)
		ready, _, _ := s.Readiness(testPolicy())
		if ready {
			t.Error("score below the threshold must not be ready")
		}
	})

	t.Run("low-confidence fill counts as missing", func(t *testing.T) {
		s := New()
		fill(s, 0.4)
		ready, missing, _ := s.Readiness(testPolicy())
		if ready {
			t.Error("fields below min confidence must not satisfy readiness")
		}
		if len(missing) != 2 {
			t.Errorf("missing = %v, want both required fields", missing)
		}
	})

	t.Run("no required fields is never ready", func(t *testing.T) {
		s := New()
		ready, _, _ := s.Readiness(Policy{ReadyConfidence: 0.8})
		if ready {
			t.Error("empty policy must not be ready")
		}
	})
}

func TestClear(t *testing.T) {
	s := New()
	s.ApplyExtraction(map[string]domain.ExtractedValue{
		"patient_name": {Value: "John Smith", Confidence: 0.9},
	})
	s.Clear(FieldPatientName)
	if s.Filled(FieldPatientName, 0.1) {
		t.Error("cleared field should be empty")
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig([]string{"patient_name", "appointment_type"}, 0.5, 0.8)
	if len(p.Required) != 2 || p.Required[1] != FieldAppointmentType {
		t.Errorf("required = %v", p.Required)
	}
	if p.MinConfidence != 0.5 || p.ReadyConfidence != 0.8 {
		t.Errorf("thresholds = %v/%v", p.MinConfidence, p.ReadyConfidence)
	}
}

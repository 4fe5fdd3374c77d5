package triage

import (
	"strings"
	"testing"
)

func TestSynthesize(t *testing.T) {
	t.Run("single result renders attribution, advice, and disclaimer", func(t *testing.T) {
		results := map[string]SpecialistResult{
			"housing_law": {
				SpecialistID:    "housing_law",
				Content:         "An eviction is underway.",
				Confidence:      0.8,
				Recommendations: []string{"Collect the lease"},
			},
		}

		analysis, conflicts := Synthesize(results)
		want := "[housing_law, confidence 0.80] An eviction is underway.\n- Collect the lease\n" + Disclaimer
		if analysis != want {
			t.Errorf("expected %q, got %q", want, analysis)
		}
		if len(conflicts) != 0 {
			t.Errorf("expected no conflicts, got %v", conflicts)
		}
	})

	t.Run("insights ordered by descending confidence", func(t *testing.T) {
		results := map[string]SpecialistResult{
			"housing_law": {SpecialistID: "housing_law", Content: "Housing view.", Confidence: 0.6},
			"family_law":  {SpecialistID: "family_law", Content: "Family view.", Confidence: 0.9},
		}

		analysis, _ := Synthesize(results)
		family := strings.Index(analysis, "[family_law")
		housing := strings.Index(analysis, "[housing_law")
		if family == -1 || housing == -1 {
			t.Fatalf("expected both specialists in output, got %q", analysis)
		}
		if family > housing {
			t.Errorf("expected the higher-confidence insight first, got %q", analysis)
		}
	})

	t.Run("confidence tie keeps specialist ID order", func(t *testing.T) {
		results := map[string]SpecialistResult{
			"housing_law": {SpecialistID: "housing_law", Content: "Housing view.", Confidence: 0.7},
			"family_law":  {SpecialistID: "family_law", Content: "Family view.", Confidence: 0.7},
		}

		analysis, _ := Synthesize(results)
		if strings.Index(analysis, "[family_law") > strings.Index(analysis, "[housing_law") {
			t.Errorf("expected tied confidences in ID order, got %q", analysis)
		}
	})

	t.Run("shared recommendations deduplicate", func(t *testing.T) {
		results := map[string]SpecialistResult{
			"housing_law": {
				SpecialistID:    "housing_law",
				Content:         "Housing view.",
				Confidence:      0.8,
				Recommendations: []string{"Collect the lease and all notices from the landlord"},
			},
			"family_law": {
				SpecialistID:    "family_law",
				Content:         "Family view.",
				Confidence:      0.6,
				Recommendations: []string{"Collect the lease and all notices from the landlord"},
			},
		}

		analysis, _ := Synthesize(results)
		line := "- Collect the lease and all notices from the landlord"
		if got := strings.Count(analysis, line); got != 1 {
			t.Errorf("expected shared advice once, found it %d times in %q", got, analysis)
		}
	})

	t.Run("failed and empty results are excluded", func(t *testing.T) {
		results := map[string]SpecialistResult{
			"housing_law": {SpecialistID: "housing_law", Content: "Housing view.", Confidence: 0.8},
			"family_law":  {SpecialistID: "family_law", Error: "timeout: context deadline exceeded"},
			"consumer_law": {
				SpecialistID: "consumer_law",
				Content:      "   ",
				Confidence:   0.9,
			},
		}

		analysis, _ := Synthesize(results)
		if !strings.Contains(analysis, "[housing_law") {
			t.Errorf("expected the successful result in output, got %q", analysis)
		}
		if strings.Contains(analysis, "family_law") || strings.Contains(analysis, "consumer_law") {
			t.Errorf("expected failed and blank results excluded, got %q", analysis)
		}
	})

	t.Run("nothing to merge returns empty", func(t *testing.T) {
		analysis, conflicts := Synthesize(map[string]SpecialistResult{
			"housing_law": {SpecialistID: "housing_law", Error: "boom"},
		})
		if analysis != "" || conflicts != nil {
			t.Errorf("expected empty output, got %q / %v", analysis, conflicts)
		}

		analysis, conflicts = Synthesize(nil)
		if analysis != "" || conflicts != nil {
			t.Errorf("expected empty output for no results, got %q / %v", analysis, conflicts)
		}
	})

	t.Run("deterministic regardless of map iteration", func(t *testing.T) {
		results := map[string]SpecialistResult{
			"housing_law":  {SpecialistID: "housing_law", Content: "Housing view.", Confidence: 0.7},
			"family_law":   {SpecialistID: "family_law", Content: "Family view.", Confidence: 0.7},
			"consumer_law": {SpecialistID: "consumer_law", Content: "Consumer view.", Confidence: 0.5},
		}

		first, _ := Synthesize(results)
		for i := 0; i < 20; i++ {
			again, _ := Synthesize(results)
			if again != first {
				t.Fatalf("expected identical output on run %d, got %q and %q", i, first, again)
			}
		}
	})
}

func TestSynthesizeConflicts(t *testing.T) {
	t.Run("split marker pair is flagged", func(t *testing.T) {
		results := map[string]SpecialistResult{
			"housing_law": {
				SpecialistID:    "housing_law",
				Content:         "The unit is unsafe.",
				Confidence:      0.8,
				Recommendations: []string{"Vacate the unit before the hearing"},
			},
			"family_law": {
				SpecialistID:    "family_law",
				Content:         "Moving now would hurt the custody case.",
				Confidence:      0.7,
				Recommendations: []string{"Remain in the unit until custody is settled"},
			},
		}

		_, conflicts := Synthesize(results)
		if len(conflicts) != 1 {
			t.Fatalf("expected 1 conflict, got %v", conflicts)
		}
		want := `housing_law recommends "vacate the unit"; family_law recommends "remain in the unit"`
		if conflicts[0] != want {
			t.Errorf("expected %q, got %q", want, conflicts[0])
		}
	})

	t.Run("marker in analysis content counts too", func(t *testing.T) {
		results := map[string]SpecialistResult{
			"criminal_law": {
				SpecialistID: "criminal_law",
				Content:      "Given the weak evidence, plead not guilty at arraignment.",
				Confidence:   0.8,
			},
			"general_practice": {
				SpecialistID:    "general_practice",
				Content:         "A quick resolution may serve the client.",
				Confidence:      0.5,
				Recommendations: []string{"Plead guilty to the reduced charge"},
			},
		}

		_, conflicts := Synthesize(results)
		if len(conflicts) != 1 {
			t.Fatalf("expected 1 conflict, got %v", conflicts)
		}
		if !strings.Contains(conflicts[0], `general_practice recommends "plead guilty"`) {
			t.Errorf("expected general_practice on the plead-guilty side, got %q", conflicts[0])
		}
		if !strings.Contains(conflicts[0], `criminal_law recommends "plead not guilty"`) {
			t.Errorf("expected criminal_law on the plead-not-guilty side, got %q", conflicts[0])
		}
	})

	t.Run("holder of both phrases counts for neither side", func(t *testing.T) {
		results := map[string]SpecialistResult{
			"housing_law": {
				SpecialistID: "housing_law",
				Content:      "Either vacate the unit or remain in the unit depending on the inspection.",
				Confidence:   0.6,
			},
			"family_law": {
				SpecialistID:    "family_law",
				Content:         "Family view.",
				Confidence:      0.7,
				Recommendations: []string{"Remain in the unit"},
			},
		}

		_, conflicts := Synthesize(results)
		if len(conflicts) != 0 {
			t.Errorf("expected an internally split specialist to raise no conflict, got %v", conflicts)
		}
	})
}

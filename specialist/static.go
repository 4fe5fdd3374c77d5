package specialist

import (
	"context"
	"strings"
)

// Playbook is the knowledge a Static analyzer applies: an opening assessment,
// baseline advice, and keyword-triggered signals that sharpen both.
type Playbook struct {
	// Specialty names the field of law, used in logs and output.
	Specialty string

	// Summary opens every analysis.
	Summary string

	// Advice is recommended on every case.
	Advice []string

	// Signals add analysis and advice when their keywords match the case.
	Signals []Signal
}

// Signal is a keyword-conditioned addition to a playbook's output.
type Signal struct {
	// Keywords trigger the signal on case-insensitive substring match.
	Keywords []string

	// Note is appended to the analysis when the signal matches.
	Note string

	// Advice is appended to the recommendations when the signal matches.
	Advice []string
}

func (sig Signal) matches(lower string) bool {
	for _, kw := range sig.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Static is a deterministic, fully local Analyzer driven by a Playbook.
//
// It exists so the whole triage pipeline runs with no API keys: the default
// service wiring uses one Static per specialist. The same input always
// produces the same Finding, which also makes it the reference analyzer for
// the synthesis determinism tests.
type Static struct {
	name string
	pb   Playbook
}

// NewStatic builds a Static analyzer named name that applies pb.
func NewStatic(name string, pb Playbook) *Static {
	return &Static{name: name, pb: pb}
}

// Name returns the specialist identifier.
func (s *Static) Name() string {
	return s.name
}

// Analyze applies the playbook to the case text. Confidence grows with each
// matched signal, from 0.45 with no matches to a 0.9 cap.
func (s *Static) Analyze(ctx context.Context, req Request) (Finding, error) {
	if err := ctx.Err(); err != nil {
		return Finding{}, err
	}

	lower := strings.ToLower(req.CaseText)

	var b strings.Builder
	b.WriteString(s.pb.Summary)

	matched := 0
	recs := append([]string(nil), s.pb.Advice...)
	for _, sig := range s.pb.Signals {
		if !sig.matches(lower) {
			continue
		}
		matched++
		b.WriteString(" ")
		b.WriteString(sig.Note)
		recs = append(recs, sig.Advice...)
	}

	confidence := 0.45 + 0.1*float64(matched)
	if confidence > 0.9 {
		confidence = 0.9
	}

	return Finding{
		Content:         b.String(),
		Confidence:      confidence,
		Recommendations: dedupe(recs),
	}, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// DefaultAnalyzers builds one Static analyzer per built-in specialist. The
// set covers every specialist the default routing table names, so a service
// configured without hosted-model credentials still produces complete triage
// output.
func DefaultAnalyzers() map[string]Analyzer {
	out := make(map[string]Analyzer)
	for name, pb := range DefaultPlaybooks() {
		out[name] = NewStatic(name, pb)
	}
	return out
}

// DefaultPlaybooks returns the built-in playbooks, keyed by specialist
// identifier.
func DefaultPlaybooks() map[string]Playbook {
	return map[string]Playbook{
		"criminal_law": {
			Specialty: "criminal defense",
			Summary:   "From a criminal defense perspective, the immediate concerns are custody status, pending court dates, and preservation of the client's rights.",
			Advice: []string{
				"Confirm whether the client is currently in custody",
				"Advise the client not to discuss the case with anyone but counsel",
			},
			Signals: []Signal{
				{
					Keywords: []string{"arrest", "custody", "jail", "detained"},
					Note:     "The client appears to have been arrested; arraignment timing and bail eligibility should be checked first.",
					Advice:   []string{"Verify the arraignment date and bail conditions"},
				},
				{
					Keywords: []string{"charge", "charged", "indict", "felony", "misdemeanor"},
					Note:     "Formal charges are mentioned, so discovery requests and a plea strategy need early attention.",
					Advice:   []string{"Request discovery and the charging documents"},
				},
				{
					Keywords: []string{"court date", "hearing", "arraignment", "summons"},
					Note:     "A court appearance is pending; missing it risks a bench warrant.",
					Advice:   []string{"Calendar the court date and arrange representation"},
				},
				{
					Keywords: []string{"probation", "parole", "warrant"},
					Note:     "Supervision or warrant exposure raises the stakes of any new allegation.",
					Advice:   []string{"Check for outstanding warrants and supervision conditions"},
				},
			},
		},
		"housing_law": {
			Specialty: "housing law",
			Summary:   "From a housing law perspective, the key questions are the client's tenancy status, any notice deadlines, and habitability of the unit.",
			Advice: []string{
				"Collect the lease and all notices from the landlord",
			},
			Signals: []Signal{
				{
					Keywords: []string{"evict", "notice to vacate", "notice to quit", "unlawful detainer"},
					Note:     "An eviction is underway or threatened; response deadlines are short and jurisdiction-specific.",
					Advice:   []string{"Determine the answer deadline for the eviction notice", "Screen for eviction defenses and local tenant protections"},
				},
				{
					Keywords: []string{"repair", "mold", "heat", "leak", "unsafe", "habitab"},
					Note:     "Habitability problems are described, which may support rent withholding or repair-and-deduct remedies.",
					Advice:   []string{"Document unit conditions with photographs and dated requests"},
				},
				{
					Keywords: []string{"deposit"},
					Note:     "A security deposit dispute is mentioned; itemization and return deadlines apply.",
					Advice:   []string{"Request an itemized deposit statement in writing"},
				},
				{
					Keywords: []string{"lockout", "locked out", "utilities shut", "shut off"},
					Note:     "A self-help lockout or utility shutoff may be an illegal eviction.",
					Advice:   []string{"Contact the court about emergency relief for an illegal lockout"},
				},
			},
		},
		"family_law": {
			Specialty: "family law",
			Summary:   "From a family law perspective, the priorities are the safety of household members, the status of any existing orders, and the children's living arrangements.",
			Advice: []string{
				"Identify any existing family court orders and their jurisdictions",
			},
			Signals: []Signal{
				{
					Keywords: []string{"custody", "visitation", "parenting"},
					Note:     "Custody or visitation is contested; the children's current schedule and caregivers matter for interim orders.",
					Advice:   []string{"Record the children's current schedule and primary caregiver"},
				},
				{
					Keywords: []string{"divorce", "separat"},
					Note:     "A divorce or separation is in progress, so asset, support, and residence questions follow.",
					Advice:   []string{"List shared assets, debts, and the marital residence status"},
				},
				{
					Keywords: []string{"abuse", "violence", "protective order", "restraining", "afraid", "threat"},
					Note:     "Safety concerns are present; protective order eligibility should be evaluated immediately.",
					Advice:   []string{"Assess eligibility for an emergency protective order", "Share domestic violence hotline and shelter resources"},
				},
				{
					Keywords: []string{"child support", "alimony", "spousal support"},
					Note:     "Support obligations are at issue; income documentation will drive the guideline numbers.",
					Advice:   []string{"Gather income records for both parties"},
				},
			},
		},
		"employment_law": {
			Specialty: "employment law",
			Summary:   "From an employment law perspective, the questions are the basis of the adverse action, the client's classification, and filing deadlines for agency claims.",
			Advice: []string{
				"Preserve pay stubs, schedules, and written communications with the employer",
			},
			Signals: []Signal{
				{
					Keywords: []string{"fired", "terminat", "laid off", "dismissed"},
					Note:     "The client lost their job; severance terms and the stated reason need review.",
					Advice:   []string{"Review any severance or release before the client signs"},
				},
				{
					Keywords: []string{"unpaid", "wage", "overtime", "paycheck"},
					Note:     "Wage violations are alleged; unpaid amounts and hours should be reconstructed.",
					Advice:   []string{"Reconstruct hours worked and amounts owed from records"},
				},
				{
					Keywords: []string{"discriminat", "harass", "retaliat"},
					Note:     "Discrimination, harassment, or retaliation is alleged; administrative charge deadlines are strict.",
					Advice:   []string{"Calendar the administrative charge filing deadline"},
				},
			},
		},
		"immigration_law": {
			Specialty: "immigration law",
			Summary:   "From an immigration law perspective, current status, pending applications, and any contact with enforcement drive both urgency and available relief.",
			Advice: []string{
				"Confirm the client's current immigration status and document expiry dates",
			},
			Signals: []Signal{
				{
					Keywords: []string{"deport", "removal", "ice ", "detention"},
					Note:     "Removal proceedings or enforcement contact are indicated; hearing dates and counsel access come first.",
					Advice:   []string{"Check the immigration court hotline for hearing dates"},
				},
				{
					Keywords: []string{"visa", "green card", "permanent resident", "uscis"},
					Note:     "A visa or residency matter is pending; filing windows and receipt notices should be verified.",
					Advice:   []string{"Gather USCIS receipt notices and filing confirmations"},
				},
				{
					Keywords: []string{"asylum", "refugee", "persecution"},
					Note:     "Asylum may be in play; the one-year filing deadline is a controlling fact.",
					Advice:   []string{"Establish the entry date against the asylum filing deadline"},
				},
			},
		},
		"consumer_law": {
			Specialty: "consumer protection",
			Summary:   "From a consumer protection perspective, the focus is on the debt or transaction at issue, collection conduct, and paper trail.",
			Advice: []string{
				"Gather contracts, statements, and collection letters",
			},
			Signals: []Signal{
				{
					Keywords: []string{"debt", "collect", "collection"},
					Note:     "Debt collection is underway; validation rights and conduct rules apply to the collector.",
					Advice:   []string{"Send a debt validation request within the dispute window"},
				},
				{
					Keywords: []string{"garnish", "repossess", "judgment"},
					Note:     "Enforcement against wages or property is threatened; exemption claims may protect essentials.",
					Advice:   []string{"Review wage and property exemptions before the next deduction"},
				},
				{
					Keywords: []string{"scam", "fraud", "identity"},
					Note:     "Fraud is alleged; fast reporting limits the loss and preserves remedies.",
					Advice:   []string{"File reports with the FTC and credit bureaus"},
				},
			},
		},
		"general_practice": {
			Specialty: "general practice",
			Summary:   "No single field of law clearly controls this case; a general intake review should map the facts to possible claims and referrals.",
			Advice: []string{
				"Schedule a full intake interview to develop the facts",
				"Identify referral options once the controlling issue is clear",
			},
			Signals: []Signal{
				{
					Keywords: []string{"deadline", "tomorrow", "today", "urgent", "emergency"},
					Note:     "Time pressure is stated, so deadline triage comes before full review.",
					Advice:   []string{"Confirm all stated deadlines before the intake interview"},
				},
			},
		},
	}
}

package triage

import (
	"context"
	"sort"
	"strings"

	"github.com/dshills/caseflow-go/flow"
)

// Classifier assigns a case category from normalized intake text.
// Implementations must be deterministic for identical input.
type Classifier interface {
	Classify(ctx context.Context, caseText string) (Category, error)
}

// RuleClassifier scores keyword families per category and picks the top
// scorer. When the top two scores land within Margin of each other and the
// pair has a registered compound category, the compound wins; a case that
// is genuinely both housing and family law should reach both specialists
// rather than whichever half scored one keyword more.
//
// Scoring iterates categories in sorted name order, so identical text
// always classifies identically.
type RuleClassifier struct {
	// Keywords maps each category to the phrases that signal it. Matching
	// is case-insensitive substring.
	Keywords map[Category][]string

	// Compounds maps a name-sorted category pair to its compound category.
	Compounds map[[2]Category]Category

	// Margin is the maximum score gap that still counts as ambiguous.
	Margin int
}

// NewRuleClassifier creates a classifier with the default keyword table,
// the housing+family compound, and a margin of 1.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{
		Keywords: map[Category][]string{
			CategoryCriminal: {
				"arrest", "police", "charge", "charged", "jail", "bail",
				"probation", "warrant", "theft", "shoplifting", "assault",
				"dui", "court date", "misdemeanor", "felony",
			},
			CategoryHousing: {
				"evict", "landlord", "lease", "rent", "tenant", "apartment",
				"repairs", "security deposit", "lockout", "habitability",
				"mold", "utilities shut",
			},
			CategoryFamily: {
				"divorce", "custody", "child support", "spouse", "marriage",
				"visitation", "alimony", "domestic violence", "restraining order",
				"separation", "adoption",
			},
			CategoryEmployment: {
				"fired", "wages", "employer", "overtime", "workplace",
				"terminated", "paycheck", "discriminat", "harassment at work",
				"unemployment",
			},
			CategoryImmigration: {
				"visa", "deport", "immigration", "asylum", "green card",
				"citizenship", "uscis", "removal proceeding",
			},
			CategoryConsumer: {
				"debt", "collector", "scam", "fraud", "credit report",
				"repossess", "garnish", "loan", "warranty", "billing dispute",
			},
		},
		Compounds: map[[2]Category]Category{
			{CategoryFamily, CategoryHousing}: CategoryHousingFamily,
		},
		Margin: 1,
	}
}

// Classify scores the text against every keyword family and returns the
// winning category, a compound for a close cross-area split, or general
// when nothing matches.
func (c *RuleClassifier) Classify(ctx context.Context, caseText string) (Category, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	lower := strings.ToLower(caseText)

	categories := make([]Category, 0, len(c.Keywords))
	for category := range c.Keywords {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	scores := make(map[Category]int, len(categories))
	for _, category := range categories {
		for _, keyword := range c.Keywords[category] {
			scores[category] += strings.Count(lower, keyword)
		}
	}

	var first, second Category
	for _, category := range categories {
		switch {
		case first == "" || scores[category] > scores[first]:
			second = first
			first = category
		case second == "" || scores[category] > scores[second]:
			second = category
		}
	}

	if first == "" || scores[first] == 0 {
		return CategoryGeneral, nil
	}

	if second != "" && scores[second] > 0 && scores[first]-scores[second] <= c.Margin {
		pair := [2]Category{first, second}
		if pair[0] > pair[1] {
			pair[0], pair[1] = pair[1], pair[0]
		}
		if compound, ok := c.Compounds[pair]; ok {
			return compound, nil
		}
	}

	return first, nil
}

// classifyNode assigns the case category.
func (w *Workflow) classifyNode(ctx context.Context, s CaseState) flow.Result[CaseState] {
	category, err := w.classifier.Classify(ctx, s.CaseText)
	if err != nil {
		return flow.Result[CaseState]{Err: &flow.NodeError{
			NodeID:  nodeClassify,
			Code:    "CLASSIFY_FAILED",
			Message: "classification failed",
			Cause:   err,
		}}
	}

	s.Category = category
	s.Status = StatusClassified
	return flow.Result[CaseState]{Delta: s, Route: flow.Goto(nodeDispatch)}
}

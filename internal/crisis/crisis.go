// Package crisis provides deterministic keyword-based crisis detection for
// user input, covering four independent risk categories: suicide, self-harm,
// abuse, and violence toward others.
//
// Detection is a pure function over explicit pattern tables so that the
// categories stay testable and extensible without touching callers.
package crisis

import (
	"regexp"
	"strings"

	"github.com/kindpath/sfbtcoach/internal/models"
)

// Category identifies one risk category in the pattern table.
type Category string

const (
	CategorySuicide  Category = "suicide"
	CategorySelfHarm Category = "self_harm"
	CategoryAbuse    Category = "abuse"
	CategoryViolence Category = "violence"
)

// categoryPattern binds one risk category to its keyword pattern.
type categoryPattern struct {
	category Category
	pattern  *regexp.Regexp
}

// patterns is the ordered risk pattern table. A single input may match any
// number of categories; self-harm and suicide are deliberately distinct.
var patterns = []categoryPattern{
	{CategorySuicide, regexp.MustCompile(`自杀|轻生|想死|不想活|结束生命|跳楼|割腕`)},
	{CategorySelfHarm, regexp.MustCompile(`伤害自己|割伤|自残|自伤`)},
	{CategoryAbuse, regexp.MustCompile(`家暴|虐待|性侵|被打|被骂|被威胁`)},
	{CategoryViolence, regexp.MustCompile(`杀人|报复|爆炸|炸弹|放火|毒|砍|伤害别人`)},
}

// categoryLabels maps categories to the human-readable labels used in alert
// summaries and safety directives.
var categoryLabels = map[Category]string{
	CategorySuicide:  "自杀",
	CategorySelfHarm: "自伤",
	CategoryAbuse:    "受虐",
	CategoryViolence: "暴力",
}

// Detect matches text against the risk pattern table and returns the
// resulting flag set. It is pure: no I/O, no side effects, never blocks.
// Empty input yields all-false flags.
func Detect(text string) models.CrisisFlags {
	var flags models.CrisisFlags
	if text == "" {
		return flags
	}
	for _, cp := range patterns {
		if !cp.pattern.MatchString(text) {
			continue
		}
		switch cp.category {
		case CategorySuicide:
			flags.Suicide = true
		case CategorySelfHarm:
			flags.SelfHarm = true
		case CategoryAbuse:
			flags.Abuse = true
		case CategoryViolence:
			flags.Violence = true
		}
	}
	flags.Any = flags.Suicide || flags.SelfHarm || flags.Abuse || flags.Violence
	return flags
}

// Summary builds the human-readable alert summary for a flag set, e.g.
// "自杀、自伤风险". Returns an empty string when no category is flagged.
func Summary(flags models.CrisisFlags) string {
	labels := Labels(flags)
	if len(labels) == 0 {
		return ""
	}
	return strings.Join(labels, "、") + "风险"
}

// directiveLabels maps categories to the wording used inside the
// safety-priority prompt directive, which names risks slightly more fully
// than the alert summary does.
var directiveLabels = map[Category]string{
	CategorySuicide:  "自杀/轻生",
	CategorySelfHarm: "自伤",
	CategoryAbuse:    "家暴/受虐",
	CategoryViolence: "伤害他人",
}

// DirectiveTag joins the flagged categories into the risk tag embedded in
// the safety-priority prompt directive. Falls back to "危机" when a flag set
// has Any set without a specific category.
func DirectiveTag(flags models.CrisisFlags) string {
	var labels []string
	for _, cp := range patterns {
		flagged := false
		switch cp.category {
		case CategorySuicide:
			flagged = flags.Suicide
		case CategorySelfHarm:
			flagged = flags.SelfHarm
		case CategoryAbuse:
			flagged = flags.Abuse
		case CategoryViolence:
			flagged = flags.Violence
		}
		if flagged {
			labels = append(labels, directiveLabels[cp.category])
		}
	}
	if len(labels) == 0 {
		return "危机"
	}
	return strings.Join(labels, "、")
}

// Labels returns the labels of the flagged categories in table order.
func Labels(flags models.CrisisFlags) []string {
	var labels []string
	for _, cp := range patterns {
		flagged := false
		switch cp.category {
		case CategorySuicide:
			flagged = flags.Suicide
		case CategorySelfHarm:
			flagged = flags.SelfHarm
		case CategoryAbuse:
			flagged = flags.Abuse
		case CategoryViolence:
			flagged = flags.Violence
		}
		if flagged {
			labels = append(labels, categoryLabels[cp.category])
		}
	}
	return labels
}

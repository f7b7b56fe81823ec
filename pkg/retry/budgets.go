package retry

import (
	"os"
	"strconv"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
)

// Class is an independent retry-budget class.
type Class string

const (
	ClassGit     Class = "git"
	ClassGitHub  Class = "github"
	ClassUploads Class = "uploads"
	ClassPublish Class = "publish"
	ClassCleanup Class = "cleanup"
)

type budgetSpec struct {
	def    int
	max    int
	envVar string
}

var budgetSpecs = map[Class]budgetSpec{
	ClassGit:     {def: 3, max: 10, envVar: "KODEGEN_RETRY_GIT"},
	ClassGitHub:  {def: 5, max: 20, envVar: "KODEGEN_RETRY_GITHUB"},
	ClassUploads: {def: 5, max: 20, envVar: "KODEGEN_RETRY_UPLOADS"},
	ClassPublish: {def: 3, max: 10, envVar: "KODEGEN_RETRY_PUBLISH"},
	ClassCleanup: {def: 3, max: 10, envVar: "KODEGEN_RETRY_CLEANUP"},
}

// Budgets holds the resolved per-class retry counts.
type Budgets map[Class]int

// LoadBudgets resolves the retry budgets from defaults and environment
// overrides, clamping each override to its per-class maximum.
func LoadBudgets() Budgets {
	logger := log.WithComponent("retry")
	budgets := make(Budgets, len(budgetSpecs))

	for class, spec := range budgetSpecs {
		value := spec.def
		if raw := os.Getenv(spec.envVar); raw != "" {
			parsed, err := strconv.Atoi(raw)
			switch {
			case err != nil || parsed < 0:
				logger.Warn().Str("var", spec.envVar).Str("value", raw).
					Msg("ignoring invalid retry override")
			case parsed > spec.max:
				logger.Warn().Str("var", spec.envVar).Int("value", parsed).
					Int("max", spec.max).Msg("clamping retry override")
				value = spec.max
			default:
				value = parsed
			}
		}
		budgets[class] = value
	}
	return budgets
}

// For returns the budget for a class, falling back to the default.
func (b Budgets) For(class Class) int {
	if v, ok := b[class]; ok {
		return v
	}
	return budgetSpecs[class].def
}

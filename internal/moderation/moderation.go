// Package moderation classifies clean post text against ordered rule sets.
//
// Hard-violation rules are evaluated first and the first match blocks the
// post. Only when none match are the soft-warning rules evaluated, where the
// first match flags the post for review. Rule order is part of the contract.
package moderation

import "regexp"

// Status is the tri-state outcome of a check.
type Status string

const (
	StatusOK          Status = "ok"
	StatusNeedsReview Status = "needs_review"
	StatusBlocked     Status = "blocked"
)

// Verdict is the result of Engine.Check. Category and Message are empty for
// StatusOK.
type Verdict struct {
	Status   Status `json:"status"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message,omitempty"`
}

// OK reports whether the verdict has no findings.
func (v Verdict) OK() bool { return v.Status == StatusOK }

// Rule pairs a matcher with the category and message it reports.
type Rule struct {
	Pattern  *regexp.Regexp
	Category string
	Message  string
}

// HardViolations block a post outright.
var HardViolations = []Rule{
	{Pattern: regexp.MustCompile(`(?i)(恐怖袭击|爆炸物)`), Category: "violence", Message: "内容涉及禁用暴力关键词"},
	{Pattern: regexp.MustCompile(`(?i)(涉黄|黄色网站|裸照)`), Category: "sexual", Message: "内容包含禁止的成人主题"},
	{Pattern: regexp.MustCompile(`(?i)(仇恨言论|灭绝)`), Category: "hate", Message: "内容包含仇恨言论"},
}

// SoftWarnings store the post but flag it for review.
var SoftWarnings = []Rule{
	{Pattern: regexp.MustCompile(`(?i)(投资建议|金融理财)`), Category: "finance", Message: "涉及金融内容，请确认无欺诈风险后再发"},
	{Pattern: regexp.MustCompile(`(?i)(政治|选举|敏感话题)`), Category: "politics", Message: "涉及公共事件，建议补充客观事实"},
}

// Engine evaluates rule tables in order. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	hard []Rule
	soft []Rule
}

// New returns an Engine over the given tables. The slices are copied.
func New(hard, soft []Rule) *Engine {
	return &Engine{
		hard: append([]Rule(nil), hard...),
		soft: append([]Rule(nil), soft...),
	}
}

// Default returns an Engine over HardViolations and SoftWarnings.
func Default() *Engine { return New(HardViolations, SoftWarnings) }

// Check classifies text. It never fails.
func (e *Engine) Check(text string) Verdict {
	if r, ok := firstMatch(e.hard, text); ok {
		return Verdict{Status: StatusBlocked, Category: r.Category, Message: r.Message}
	}
	if r, ok := firstMatch(e.soft, text); ok {
		return Verdict{Status: StatusNeedsReview, Category: r.Category, Message: r.Message}
	}
	return Verdict{Status: StatusOK}
}

func firstMatch(rules []Rule, text string) (Rule, bool) {
	for _, r := range rules {
		if r.Pattern != nil && r.Pattern.MatchString(text) {
			return r, true
		}
	}
	return Rule{}, false
}

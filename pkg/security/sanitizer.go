// Package security scores and rewrites text for prompt-injection risk
// before it reaches any model. All functions are pure: they never fail
// and never perform I/O.
package security

import (
	"fmt"
	"regexp"
	"strings"

	"docuquery/pkg/domain"
)

// patternGroup is one family of injection signatures. Every match of
// any pattern in the group adds Weight to the risk score.
type patternGroup struct {
	Name     string
	Weight   int
	Patterns []*regexp.Regexp
}

var patternGroups = []patternGroup{
	{
		Name:   "role_override",
		Weight: 30,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
			regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(instructions?|guidelines?)`),
			regexp.MustCompile(`(?i)forget\s+(everything|all|your)\s+(instructions?|training|rules?)`),
			regexp.MustCompile(`(?i)you\s+are\s+(now|no\s+longer)\s+`),
			regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+(are|were)|a)\s+`),
			regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
		},
	},
	{
		Name:   "system_prompt_leak",
		Weight: 35,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(reveal|show|print|repeat|output)\s+(your|the)\s+(system\s+)?prompt`),
			regexp.MustCompile(`(?i)what\s+(are|were)\s+your\s+(initial\s+)?instructions`),
			regexp.MustCompile(`(?i)(system|assistant)\s*:\s*`),
			regexp.MustCompile(`(?i)<\s*/?\s*(system|instructions?)\s*>`),
		},
	},
	{
		Name:   "jailbreak",
		Weight: 40,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bDAN\b.{0,30}(mode|jailbreak)`),
			regexp.MustCompile(`(?i)do\s+anything\s+now`),
			regexp.MustCompile(`(?i)(developer|god|sudo)\s+mode`),
			regexp.MustCompile(`(?i)without\s+(any\s+)?(restrictions?|limitations?|filters?)`),
			regexp.MustCompile(`(?i)pretend\s+(you|to)\s+(have\s+no|don'?t\s+have)\s+(rules|guidelines|restrictions)`),
		},
	},
	{
		Name:   "credential_exfil",
		Weight: 45,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(send|post|forward|exfiltrate)\s+.{0,40}(api[\s_-]?key|password|token|credential)`),
			regexp.MustCompile(`(?i)(api[\s_-]?key|secret|password)\s*[:=]\s*\S+`),
			regexp.MustCompile(`(?i)curl\s+.{0,60}(-d|--data)`),
		},
	},
	{
		Name:   "instruction_injection",
		Weight: 25,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\[\s*(instructions?|important|note\s+to\s+(ai|assistant|model))\s*[:\]]`),
			regexp.MustCompile(`(?i)when\s+(answering|responding|summariz\w+)\s*,?\s+(always|you\s+must)`),
			regexp.MustCompile(`(?i)respond\s+only\s+with`),
			regexp.MustCompile("(?i)```\\s*(system|prompt)"),
		},
	},
}

var (
	roleLabelRe     = regexp.MustCompile(`(?i)\b(system|assistant)\s*:`)
	urlSchemeRe     = regexp.MustCompile(`(?i)\b(javascript|data|vbscript|file|ftp)://`)
	invisibleRe     = regexp.MustCompile("[\\x{200B}\\x{200C}\\x{200D}\\x{200E}\\x{200F}\\x{2060}\\x{FEFF}\\x{00AD}]")
	overrideRe      = regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`)
	tagRe           = regexp.MustCompile(`(?i)<\s*/?\s*(system|instructions?)\s*>`)
	collapseSpaceRe = regexp.MustCompile(`[ \t]{3,}`)
)

// Options controls sanitization behaviour; values come from
// security.promptInjectionProtection in the configuration.
type Options struct {
	Strict        bool
	PreserveURLs  bool
	MaxRiskScore  int
	BlockHighRisk bool
}

// Sanitizer applies the fixed pattern catalogue. Enabled=false turns
// every operation into a pass-through.
type Sanitizer struct {
	Enabled bool
}

func New(enabled bool) *Sanitizer {
	return &Sanitizer{Enabled: enabled}
}

// CalculateRiskScore applies the pattern catalogue to text and returns
// the clamped score with its band. Unrecognized or empty input scores
// zero.
func (s *Sanitizer) CalculateRiskScore(text string) domain.RiskAssessment {
	if !s.Enabled || text == "" {
		return domain.RiskAssessment{Score: 0, Risk: domain.RiskLow}
	}

	score := 0
	var detected []string
	for _, group := range patternGroups {
		matched := false
		for _, re := range group.Patterns {
			if hits := re.FindAllString(text, -1); len(hits) > 0 {
				score += group.Weight * len(hits)
				matched = true
			}
		}
		if matched {
			detected = append(detected, group.Name)
		}
	}

	if score > 100 {
		score = 100
	}

	return domain.RiskAssessment{
		Score:            score,
		Risk:             bandFor(score),
		DetectedPatterns: detected,
	}
}

func bandFor(score int) domain.RiskLevel {
	switch {
	case score < 25:
		return domain.RiskLow
	case score < 50:
		return domain.RiskMedium
	case score < 75:
		return domain.RiskHigh
	default:
		return domain.RiskCritical
	}
}

// SanitizeText rewrites detected injection patterns while preserving
// alphanumeric content and (when configured) URLs.
func (s *Sanitizer) SanitizeText(text string, opts Options) string {
	if !s.Enabled || text == "" {
		return text
	}

	out := text

	// Neutralize role labels so the model cannot be re-addressed.
	out = roleLabelRe.ReplaceAllStringFunc(out, func(m string) string {
		label := strings.TrimRight(strings.TrimSpace(m), ":")
		return "[" + strings.ToLower(label) + "]"
	})

	out = tagRe.ReplaceAllString(out, "")
	out = overrideRe.ReplaceAllString(out, "[filtered instruction]")
	out = invisibleRe.ReplaceAllString(out, "")

	if !opts.PreserveURLs {
		out = urlSchemeRe.ReplaceAllString(out, "hxxp://")
	} else {
		// http(s) is kept verbatim; only non-web schemes are escaped.
		out = urlSchemeRe.ReplaceAllStringFunc(out, func(m string) string {
			return strings.Replace(m, "://", "[:]//", 1)
		})
	}

	if opts.Strict {
		for _, group := range patternGroups {
			for _, re := range group.Patterns {
				out = re.ReplaceAllString(out, "[filtered]")
			}
		}
		out = collapseSpaceRe.ReplaceAllString(out, " ")
	}

	return out
}

// SanitizeForAI runs score -> sanitize -> score, looping until the
// final score is at or below opts.MaxRiskScore or a pass produces no
// further reduction. Source names the extractor that produced the
// text and is only used for reporting.
func (s *Sanitizer) SanitizeForAI(text, source string, opts Options) (string, domain.SecurityReport) {
	initial := s.CalculateRiskScore(text)

	report := domain.SecurityReport{
		InitialRiskScore: initial.Score,
		FinalRiskScore:   initial.Score,
		IsSafe:           initial.Score <= opts.MaxRiskScore,
	}

	if !s.Enabled || initial.Score <= opts.MaxRiskScore {
		return text, report
	}

	const maxRounds = 3
	content := text
	score := initial.Score
	strict := opts.Strict

	for round := 0; round < maxRounds; round++ {
		content = s.SanitizeText(content, Options{Strict: strict, PreserveURLs: opts.PreserveURLs})
		report.AppliedFilters = append(report.AppliedFilters, filterName(strict))

		next := s.CalculateRiskScore(content).Score
		if next >= score {
			// No further reduction; escalate to strict once, then stop.
			if strict {
				score = next
				break
			}
			strict = true
		}
		score = next
		if score <= opts.MaxRiskScore {
			break
		}
	}

	report.FinalRiskScore = score
	report.IsSafe = score <= opts.MaxRiskScore
	if initial.Score > 0 {
		report.RiskReduction = (initial.Score - score) * 100 / initial.Score
	}
	if !report.IsSafe {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("content from %s retains a risk score of %d; consider manual review", source, score))
	}

	return content, report
}

// ScreenQuestion applies the per-question risk policy: critical-risk
// questions (and high-risk ones when BlockHighRisk is set) are
// replaced with the fixed refusal, everything else is sanitized in
// place. The bool reports whether the question was blocked.
func (s *Sanitizer) ScreenQuestion(question string, opts Options) (string, bool) {
	if !s.Enabled {
		return question, false
	}

	assessment := s.CalculateRiskScore(question)
	if assessment.Risk == domain.RiskCritical ||
		(opts.BlockHighRisk && assessment.Risk == domain.RiskHigh) {
		return domain.BlockedQuestionAnswer, true
	}

	return s.SanitizeText(question, opts), false
}

func filterName(strict bool) string {
	if strict {
		return "pattern_rewrite_strict"
	}
	return "pattern_rewrite"
}

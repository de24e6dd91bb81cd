package classifier

import (
	"regexp"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// Rule is one entry of the ordered classification table.
type Rule struct {
	// Name identifies the signature; it equals Kind except for signatures
	// that share a kind, such as workflow_config.
	Name        string
	Kind        domain.FailureKind
	Patterns    []*regexp.Regexp
	ExitCodes   []int
	Confidence  float64
	Severity    domain.Severity
	Fixable     bool
	Suggest     domain.Action
	Description string
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(flags + e)
	}
	return out
}

// flags makes every pattern case-insensitive and line-anchored.
const flags = `(?im)`

// DefaultRules returns the built-in table in priority order. The first
// matching rule wins, so overlapping signals resolve deterministically.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "permission_denied",
			Kind: domain.FailureKindPermissionDenied,
			Patterns: compile(
				`Permission to \S+ denied`,
				`unable to access.*403`,
				`returned error: 403`,
				`\b401 Unauthorized\b`,
				`\b403 Forbidden\b`,
				`\bHTTP(?: error)? 40[13]\b`,
				`Bad credentials`,
				`Resource not accessible by integration`,
				`insufficient (?:scopes?|permissions?)`,
				`token (?:has )?expired`,
			),
			Confidence:  0.9,
			Severity:    domain.SeverityHigh,
			Suggest:     domain.ActionEscalate,
			Description: "Push or API call rejected: the token lacks permissions or has expired",
		},
		{
			Name: "missing_secret",
			Kind: domain.FailureKindMissingSecret,
			Patterns: compile(
				`\b\w*(?:_PROMPT|_KEY|_TOKEN|_SECRET)\b.*\b(?:not set|is empty|is missing|missing|not found|not configured)\b`,
				`environment variable.*\bnot (?:set|found)\b`,
				`secret.*\b(?:not set|not configured|is missing)\b`,
			),
			Confidence:  0.85,
			Severity:    domain.SeverityHigh,
			Suggest:     domain.ActionEscalate,
			Description: "Required secret or environment variable is not set",
		},
		{
			Name: "api_quota",
			Kind: domain.FailureKindAPIQuota,
			Patterns: compile(
				`quota.*exceeded`,
				`rate.?limit`,
				`\b429\b`,
				`Resource has been exhausted`,
				`RESOURCE_EXHAUSTED`,
			),
			Confidence:  0.9,
			Severity:    domain.SeverityMedium,
			Fixable:     true,
			Suggest:     domain.ActionWaitAndRetry,
			Description: "Upstream API quota exhausted or rate limited",
		},
		{
			Name: "empty_response",
			Kind: domain.FailureKindEmptyResponse,
			Patterns: compile(
				`empty response`,
				`no content returned`,
				`response is None`,
				`Response: None`,
				`empty payload`,
			),
			Confidence:  0.8,
			Severity:    domain.SeverityLow,
			Fixable:     true,
			Suggest:     domain.ActionRetryNow,
			Description: "Upstream API returned an empty response (transient)",
		},
		{
			Name: "encoding_error",
			Kind: domain.FailureKindEncodingError,
			Patterns: compile(
				`Unicode(?:De|En)codeError`,
				`'utf-8' codec can't decode`,
				`codec.*decode`,
				`invalid UTF-8`,
			),
			Confidence:  0.85,
			Severity:    domain.SeverityLow,
			Fixable:     true,
			Suggest:     domain.ActionRetryNow,
			Description: "Text decoding failed on a non-UTF-8 payload",
		},
		{
			Name: "git_conflict",
			Kind: domain.FailureKindGitConflict,
			Patterns: compile(
				`CONFLICT.*merge`,
				`failed to push.*rejected`,
				`Updates were rejected`,
				`\[rejected\].*\((?:fetch first|non-fast-forward)\)`,
				`non-fast-forward`,
			),
			Confidence:  0.9,
			Severity:    domain.SeverityMedium,
			Fixable:     true,
			Suggest:     domain.ActionRebaseAndRetry,
			Description: "Push rejected by a concurrent write to the content repository",
		},
		{
			Name: "workflow_config",
			Kind: domain.FailureKindUnknown,
			Patterns: compile(
				`Invalid workflow file`,
				`syntax error in workflow`,
				`yaml.*parse error`,
			),
			Confidence:  0.8,
			Severity:    domain.SeverityHigh,
			Suggest:     domain.ActionEscalate,
			Description: "Workflow YAML configuration error",
		},
	}
}

// snippetPatterns pick a representative line from logs no rule recognised.
var snippetPatterns = compile(
	`Error: .+`,
	`FATAL: .+`,
	`failed with .+`,
	`Exception: .+`,
)

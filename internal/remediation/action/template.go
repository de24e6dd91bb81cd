package action

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"text/template"
	"time"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

type kindText struct {
	Title  string
	Label  string
	Issue  string
	Steps  string
	Status string
}

var texts = map[domain.FailureKind]kindText{
	domain.FailureKindPermissionDenied: {
		Title: "Token Permission Error",
		Label: "security",
		Issue: "The workflow token lacks the permissions needed to push to the repository or trigger downstream workflows.",
		Steps: "1. **Verify the token has the required scopes**: `repo` and `workflow`.\n" +
			"2. **Regenerate the token if needed** at https://github.com/settings/tokens and update the secret:\n" +
			"   `gh secret set PAT_TOKEN --body \"YOUR_NEW_TOKEN\"`\n" +
			"3. **Verify the fix**:\n   ```bash\n   gh workflow run {{.Workflow}}\n   gh run list --workflow={{.Workflow}} --limit 1\n   ```",
		Status: "Cannot auto-fix: credentials are never rotated automatically.",
	},
	domain.FailureKindMissingSecret: {
		Title: "Missing Secret",
		Label: "configuration",
		Issue: "The workflow requires a secret or environment variable that is not configured.",
		Steps: "1. **Identify the required secret** from the workflow file and its configuration.\n" +
			"2. **Add the missing secret**:\n   `gh secret set SECRET_NAME --body \"value\"`\n" +
			"3. **Verify the fix**:\n   ```bash\n   gh workflow run {{.Workflow}}\n   gh run list --workflow={{.Workflow}} --limit 1\n   ```",
		Status: "Cannot auto-fix: secrets are configured by a human.",
	},
}

var defaultText = kindText{
	Title: "Workflow Failure Needs Review",
	Label: "needs-investigation",
	Issue: "The workflow failed in a way automatic remediation will not handle.",
	Steps: "1. **Review the workflow logs**:\n   ```bash\n   gh run view {{.RunID}} --log\n   ```\n" +
		"2. **Check for new error patterns** and extend `classifier.extra_patterns` if this failure recurs.\n" +
		"3. **Resolve manually** and close this issue.",
	Status: "Cannot auto-fix: requires human review.",
}

var ledgerText = kindText{
	Title: "Attempt Ledger Contention",
	Label: "needs-investigation",
	Issue: "Concurrent monitor invocations kept conflicting while committing to the attempt ledger, so remediation was abandoned instead of guessing.",
	Steps: "1. **Inspect the ledger store** for a stuck writer or a corrupted document.\n" +
		"2. **Check how many monitor runs overlap** for this workflow.\n" +
		"3. **Re-run the monitor** once the ledger commits cleanly.",
	Status: "Cannot auto-fix: the ledger's own state is in doubt.",
}

func textFor(key TicketKey, forced bool) kindText {
	if key.Scope == ScopeLedger {
		return ledgerText
	}
	t, ok := texts[key.Kind]
	if !ok {
		t = defaultText
	}
	if forced {
		t.Title = "Recurring Failure"
		t.Label = "needs-investigation"
		t.Issue = "Automatic remediation hit its rate limit and the failure keeps recurring."
		t.Status = "Auto-fix stopped: an unresolved recurring failure needs a human."
	}
	return t
}

const bodyTemplate = `## Workflow Failure: {{.Text.Title}}

**Workflow**: ` + "`{{.Workflow}}`" + `
**Run ID**: {{if .RunID}}{{.RunID}}{{else}}N/A{{end}}
**Failure Type**: {{.Kind}}
**Detected**: {{.Detected}}
{{- if .URL}}
**Run**: {{.URL}}
{{- end}}
{{- if .Excerpt}}
**Evidence**: ` + "`{{.Excerpt}}`" + `
{{- end}}
**Decision**: {{.Reason}}

### Issue
{{.Text.Issue}}

### Required Actions
{{.Steps}}
{{- if .History}}

### Recent Remediation History
| Time | Kind | Action | Outcome |
|---|---|---|---|
{{- range .History}}
| {{.Timestamp.UTC.Format "2006-01-02 15:04 UTC"}} | {{.Kind}} | {{.Action}} | {{.Outcome}} |
{{- end}}
{{- end}}

### Auto-Fix Status
{{.Text.Status}}

---
*Generated by workflow-monitor*
{{.Marker}}
`

var body = template.Must(template.New("ticket").Parse(bodyTemplate))

// Render builds the ticket draft for an escalation.
func Render(key TicketKey, req Request, now time.Time, labels []string) (Draft, error) {
	text := textFor(key, req.Decision.Forced)

	data := map[string]any{
		"Workflow": req.JobID,
		"RunID":    req.RunID,
		"Kind":     key.Kind,
		"Detected": now.UTC().Format("2006-01-02 15:04:05 UTC"),
		"URL":      req.Diagnosis.URL,
		"Excerpt":  strings.ReplaceAll(req.Diagnosis.Excerpt, "`", "'"),
		"Reason":   req.Decision.Reason,
		"History":  req.History,
		"Text":     text,
		"Marker":   key.Marker(),
	}

	steps, err := template.New("steps").Parse(text.Steps)
	if err != nil {
		return Draft{}, fmt.Errorf("failed to parse ticket steps: %w", err)
	}
	var sb bytes.Buffer
	if err := steps.Execute(&sb, data); err != nil {
		return Draft{}, fmt.Errorf("failed to render ticket steps: %w", err)
	}
	data["Steps"] = sb.String()

	var buf bytes.Buffer
	if err := body.Execute(&buf, data); err != nil {
		return Draft{}, fmt.Errorf("failed to render ticket: %w", err)
	}

	all := slices.Clone(labels)
	if !slices.Contains(all, text.Label) {
		all = append(all, text.Label)
	}
	return Draft{
		Title:  fmt.Sprintf("[Auto-Monitor] %s - %s", text.Title, req.JobID),
		Body:   buf.String(),
		Labels: all,
	}, nil
}

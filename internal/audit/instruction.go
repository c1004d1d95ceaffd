package audit

import (
	"strings"
	"text/template"
	"time"
)

// SystemMessage frames the engine's role for every audit.
const SystemMessage = "You are a HIPAA compliance expert. Analyze code and return structured JSON with compliance findings."

// Safeguard categories and the components each must report on.
var safeguardTaxonomy = []struct {
	Key        string
	Title      string
	Components []string
}{
	{"administrative_safeguards", "Administrative Safeguards", []string{
		"Security Management Process (risk analysis, risk management, sanction policy, activity review)",
		"Assigned Security Responsibility",
		"Workforce Security (authorization, clearance, termination)",
		"Information Access Management",
		"Security Awareness and Training (reminders, malware protection, log-in monitoring, password management)",
		"Security Incident Procedures",
		"Contingency Plan (backup, disaster recovery, emergency mode, testing, criticality analysis)",
		"Evaluation",
		"Business Associate Agreements",
	}},
	{"technical_safeguards", "Technical Safeguards", []string{
		"Access Control (unique user ids, emergency access, automatic logoff, encryption)",
		"Audit Controls",
		"Integrity",
		"Person or Entity Authentication",
		"Transmission Security (integrity controls, encryption in transit)",
	}},
	{"physical_safeguards", "Physical Safeguards", []string{
		"Facility Access Controls",
		"Workstation Use",
		"Workstation Security",
		"Device and Media Controls (disposal, re-use, accountability, backup)",
	}},
	{"data_handling", "Data Handling", []string{
		"PHI in Logs",
		"PHI in URLs",
		"Input Sanitization",
		"Secrets Management",
		"Dependency Security",
	}},
}

var instructionTmpl = template.Must(template.New("instruction").Parse(`You are an automated HIPAA compliance auditor for codebases. Scan every file of the repository below and return a structured, evidence-backed readiness report.

RULES:
- Do not modify files and do not contact external systems.
- Never output real Protected Health Information. Replace anything that looks like PHI with the token "[REDACTED_PHI]".
- Treat secrets as sensitive: report their location, never their value.
- Ignore dependency caches, vendored code, build artifacts and version-control metadata.
- Vendors you cannot verify are reported as "requires manual verification" with instructions.

SAFEGUARD TAXONOMY (every component must receive a status of compliant, partial, non_compliant or not_found):
{{range .Taxonomy}}- {{.Key}} ({{.Title}}):
{{range .Components}}    - {{.}}
{{end}}{{end}}
SCORING:
Each subscore is 0-100. overall_score = 0.45*technical_safeguards_score + 0.30*administrative_safeguards_score + 0.10*physical_safeguards_score + 0.10*audit_coverage_score + 0.05*devops_hygiene_score, rounded to one decimal place.

OUTPUT:
Return ONLY one JSON object with these top-level keys:
- "metadata": {"repo": {{printf "%q" .RepoName}}, "scan_date": "{{.ScanDate}}", "scanned_by": "scanara-ai-v1"}
- "scores": {"overall_score", "technical_safeguards_score", "administrative_safeguards_score", "physical_safeguards_score", "audit_coverage_score", "devops_hygiene_score", "encryption_coverage_percent"}
- "summary": {"top_issues_count", "critical", "high", "medium", "low", "top_3_findings": [{"title", "severity", "description", "file_paths", "line_refs", "remediation"}]}
- "detailed_findings": [{"id", "category", "severity", "description", "evidence": [{"file", "line_start", "line_end", "snippet"}], "recommended_fix": {"type", "patch_example", "commands", "estimated_hours"}}]
- "metrics": {"mfa_coverage_percent", "rbac_coverage_percent", "secrets_in_code_count", "log_redaction_coverage_percent", "public_bucket_count", "tls_enforced", "dependency_vulnerabilities_count"}
- "remediation_plan": [{"id", "title", "priority", "steps", "files_to_change", "estimated_hours"}]
- "actions_required": {"manual_verification": [{"issue_id", "action", "how_to_verify"}]}
- "component_analysis": one entry per taxonomy key, each {"status", "score", "components": [{"name", "status", "description", "evidence", "remediation", "files"}]}

CODEBASE:
{{.Document}}`))

// InstructionInput parameterizes BuildInstruction.
type InstructionInput struct {
	RepoName string
	ScanDate time.Time
	Document string
}

// BuildInstruction renders the fixed analysis instruction around the
// serialized snapshot document.
func BuildInstruction(in InstructionInput) string {
	name := in.RepoName
	if name == "" {
		name = "unknown"
	}

	var b strings.Builder
	b.Grow(len(in.Document) + 4096)
	// The template and its inputs are fixed; Execute only fails on writer errors.
	_ = instructionTmpl.Execute(&b, map[string]any{
		"Taxonomy": safeguardTaxonomy,
		"RepoName": name,
		"ScanDate": in.ScanDate.UTC().Format(time.RFC3339),
		"Document": in.Document,
	})
	return b.String()
}

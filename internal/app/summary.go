package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rancher/publish-branch-action/internal/orchestrator"
)

// maxListedFiles caps the file list rendered into markdown.
const maxListedFiles = 50

// report is what the runner tells the workflow about one publish.
type report struct {
	Result   orchestrator.Result
	Verified bool
	Err      error
}

func (rep report) status() string {
	switch {
	case rep.Err != nil:
		return "failed"
	case rep.Result.DryRun:
		return "dry_run"
	case rep.Result.Pushed:
		return "pushed"
	default:
		return "committed"
	}
}

func (r *Runner) writeStepSummary(rep report) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_STEP_SUMMARY"))
	if path == "" {
		return nil
	}

	// GitHub Actions normally creates the directory already.
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not create summary directory: %v\n", mkErr)
		}
	}

	var builder strings.Builder
	builder.WriteString("## Publish branch summary\n\n")
	builder.WriteString(renderReportDetails(rep))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open step summary: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close step summary file: %v\n", closeErr)
		}
	}()

	if _, err := file.WriteString(builder.String()); err != nil {
		return fmt.Errorf("write step summary: %w", err)
	}

	if !strings.HasSuffix(builder.String(), "\n") {
		if _, err := file.WriteString("\n"); err != nil {
			return fmt.Errorf("terminate step summary: %w", err)
		}
	}

	return nil
}

type outputRunSummary struct {
	Status       string `json:"status"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	Commit       string `json:"commit"`
	Files        int    `json:"files"`
	Remote       string `json:"remote,omitempty"`
	Pushed       bool   `json:"pushed"`
	Verified     bool   `json:"verified"`
	DryRun       bool   `json:"dry_run"`
	Error        string `json:"error,omitempty"`
}

func (r *Runner) writeGitHubOutputs(rep report) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_OUTPUT"))
	if path == "" {
		return nil
	}

	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not create outputs directory: %v\n", mkErr)
		}
	}

	res := rep.Result
	branch := res.TargetBranch
	if branch == "" {
		branch = r.cfg.TargetBranch
	}

	files := res.Files
	if files == nil {
		files = []string{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}

	summary := outputRunSummary{
		Status:       rep.status(),
		SourceBranch: res.SourceBranch,
		TargetBranch: branch,
		Commit:       res.Commit,
		Files:        len(res.Files),
		Remote:       res.Remote,
		Pushed:       res.Pushed,
		Verified:     rep.Verified,
		DryRun:       res.DryRun,
	}
	if rep.Err != nil {
		summary.Error = rep.Err.Error()
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run_summary: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open github output: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close github output file: %v\n", closeErr)
		}
	}()

	outputs := []struct{ key, value string }{
		{"commit", res.Commit},
		{"branch", branch},
		{"pushed", strconv.FormatBool(res.Pushed)},
		{"verified", strconv.FormatBool(rep.Verified)},
		{"files", string(filesJSON)},
		{"run_summary", string(summaryJSON)},
	}
	for _, o := range outputs {
		if err := writeMultilineOutput(file, o.key, o.value); err != nil {
			return err
		}
	}

	return nil
}

func renderReportDetails(rep report) string {
	var builder strings.Builder
	res := rep.Result

	if rep.Err != nil {
		builder.WriteString(fmt.Sprintf("Publish failed: %s\n", sanitizeMarkdownCell(rep.Err.Error())))
		if res.Commit != "" {
			builder.WriteString(fmt.Sprintf("\nCommit `%s` was created locally but not pushed.\n", res.Commit))
		}
		return builder.String()
	}

	commit := res.Commit
	if commit == "" {
		commit = "-"
	} else {
		commit = "`" + commit + "`"
	}

	builder.WriteString("| Source | Target | Status | Commit | Files | Verified |\n")
	builder.WriteString("| --- | --- | --- | --- | --- | --- |\n")
	builder.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d | %s |\n",
		sanitizeMarkdownCell(res.SourceBranch),
		sanitizeMarkdownCell(res.TargetBranch),
		sanitizeMarkdownCell(rep.status()),
		commit,
		len(res.Files),
		strconv.FormatBool(rep.Verified),
	))

	if len(res.Files) == 0 {
		builder.WriteString("\nNo files matched the publish paths.\n")
		return builder.String()
	}

	builder.WriteString("\n<details><summary>Published files</summary>\n\n")
	for i, f := range res.Files {
		if i == maxListedFiles {
			builder.WriteString(fmt.Sprintf("- ... and %d more\n", len(res.Files)-maxListedFiles))
			break
		}
		builder.WriteString(fmt.Sprintf("- `%s`\n", f))
	}
	builder.WriteString("\n</details>\n")

	return builder.String()
}

func writeMultilineOutput(file *os.File, key, value string) error {
	if _, err := fmt.Fprintf(file, "%s<<EOF\n%s\nEOF\n", key, value); err != nil {
		return fmt.Errorf("write output %s: %w", key, err)
	}
	return nil
}

func sanitizeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\n", "<br>")
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}

package app

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/rancher/publish-branch-action/internal/github"
)

// summaryCommentMarker identifies the comment owned by this action so reruns
// edit it instead of adding new ones.
const summaryCommentMarker = "<!-- rancher/publish-branch-action:summary -->"

const commentAttribution = "_Posted by [rancher/publish-branch-action](https://github.com/rancher/publish-branch-action)_"

func buildSummaryCommentBody(rep report) string {
	var builder strings.Builder
	builder.WriteString(summaryCommentMarker)
	builder.WriteString("\n### Publish branch summary\n\n")
	builder.WriteString(renderReportDetails(rep))
	builder.WriteString("\n")
	builder.WriteString(commentAttribution)
	builder.WriteString("\n")
	return builder.String()
}

func (r *Runner) upsertSummaryComment(ctx context.Context, client gh.Client, pr gh.PullRequest, rep report) error {
	action, err := client.UpsertComment(ctx, pr, summaryCommentMarker, buildSummaryCommentBody(rep))
	if err != nil {
		return fmt.Errorf("upsert summary comment: %w", err)
	}
	r.log.Info("summary comment "+string(action), "pull_request", pr.String())
	return nil
}

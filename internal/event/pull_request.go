package event

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/go-github/v55/github"
)

// Repository identifies the owner/name of the repository the workflow runs in.
type Repository struct {
	Owner string
	Name  string
}

// String returns the owner/name form.
func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepository splits a GITHUB_REPOSITORY style "owner/name" value.
func ParseRepository(value string) (Repository, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(value), "/")
	owner = strings.TrimSpace(owner)
	name = strings.TrimSpace(name)
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repository{}, fmt.Errorf("invalid repository %q, expected owner/name", value)
	}
	return Repository{Owner: owner, Name: name}, nil
}

// PullRequestPayload captures the subset of a pull_request event used to report
// publish results back to the pull request.
type PullRequestPayload struct {
	Action      string
	Repository  Repository
	PullRequest PullRequest
}

// PullRequest identifies the pull request that triggered the workflow.
type PullRequest struct {
	Number  int
	HeadRef string
	HeadSHA string
}

// ParsePullRequestEvent decodes a GitHub pull_request event payload from the provided reader.
func ParsePullRequestEvent(r io.Reader) (PullRequestPayload, error) {
	var raw github.PullRequestEvent

	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return PullRequestPayload{}, fmt.Errorf("decode pull_request event: %w", err)
	}

	return PullRequestPayload{
		Action: strings.ToLower(strings.TrimSpace(raw.GetAction())),
		Repository: Repository{
			Owner: strings.TrimSpace(raw.GetRepo().GetOwner().GetLogin()),
			Name:  strings.TrimSpace(raw.GetRepo().GetName()),
		},
		PullRequest: PullRequest{
			Number:  raw.GetPullRequest().GetNumber(),
			HeadRef: strings.TrimSpace(raw.GetPullRequest().GetHead().GetRef()),
			HeadSHA: strings.TrimSpace(raw.GetPullRequest().GetHead().GetSHA()),
		},
	}, nil
}

// ParsePullRequestEventFile reads the event JSON from disk.
func ParsePullRequestEventFile(path string) (PullRequestPayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return PullRequestPayload{}, fmt.Errorf("open event file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close event file: %v\n", closeErr)
		}
	}()

	return ParsePullRequestEvent(f)
}

// IsPullRequestEvent reports whether eventName carries a pull request payload.
func IsPullRequestEvent(eventName string) bool {
	switch strings.TrimSpace(eventName) {
	case "pull_request", "pull_request_target":
		return true
	}
	return false
}

// Package refs normalises and validates branch names supplied by users.
package refs

import (
	"errors"
	"strings"
)

const headsPrefix = "refs/heads/"

// NormalizeBranch strips a refs/heads/ prefix from a branch name, then trims
// whitespace and slashes around what remains. It returns an empty string when the
// normalized branch would otherwise be empty.
func NormalizeBranch(branch string) string {
	branch = strings.TrimLeft(strings.TrimSpace(branch), "/")

	if len(branch) >= len(headsPrefix) && strings.EqualFold(branch[:len(headsPrefix)], headsPrefix) {
		branch = branch[len(headsPrefix):]
	}

	branch = strings.TrimSpace(branch)
	branch = strings.Trim(branch, "/")

	return strings.TrimSpace(branch)
}

// ValidateBranch reports whether name is usable as a local branch name, following
// the rules of git check-ref-format.
func ValidateBranch(name string) error {
	if name == "" {
		return errors.New("branch cannot be empty")
	}

	if name == "@" {
		return errors.New("branch cannot be '@'")
	}

	if strings.HasPrefix(name, "-") {
		return errors.New("branch cannot start with '-'")
	}

	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.Contains(name, "//") {
		return errors.New("branch cannot start or end with '/' or contain '//'")
	}

	if strings.HasSuffix(name, ".") {
		return errors.New("branch cannot end with '.'")
	}

	if strings.Contains(name, "..") {
		return errors.New("branch cannot contain '..'")
	}

	if strings.Contains(name, "@{") {
		return errors.New("branch cannot contain '@{'")
	}

	if strings.ContainsAny(name, " ~^:?*[\\") {
		return errors.New("branch contains forbidden git characters")
	}

	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return errors.New("branch cannot contain control characters")
		}
	}

	for _, component := range strings.Split(name, "/") {
		if strings.HasPrefix(component, ".") {
			return errors.New("branch components cannot start with '.'")
		}
		if strings.HasSuffix(component, ".lock") {
			return errors.New("branch components cannot end with '.lock'")
		}
	}

	return nil
}

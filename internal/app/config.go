package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rancher/publish-branch-action/internal/generate"
	"github.com/rancher/publish-branch-action/internal/paths"
	"github.com/rancher/publish-branch-action/internal/refs"
)

const (
	defaultWorkingDirectory = "."
	defaultTargetBranch     = "gh-pages"
	defaultRemote           = "origin"
	defaultCommitMessage    = "Published"
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultGitBackend       = GitBackendShell
)

// Supported values for Config.GitBackend.
const (
	GitBackendShell = "shell"
	GitBackendGoGit = "go-git"
)

var supportedGitBackends = map[string]struct{}{
	GitBackendShell: {},
	GitBackendGoGit: {},
}

// Config captures runtime options sourced from GitHub Action inputs, environment
// variables and an optional YAML file.
type Config struct {
	WorkingDirectory string
	TargetBranch     string
	PublishPaths     []string
	GenerateCommand  string
	GenerateShell    string
	Remote           string
	CommitMessage    string
	Push             bool
	CommentOnPR      bool

	GitHubToken     string
	GitHubBaseURL   string
	GitHubUploadURL string

	GitBackend      string
	GitUserName     string
	GitUserEmail    string
	InsecureSkipTLS bool
	HTTPSProxy      string

	DryRun    bool
	Verbose   bool
	LogLevel  string
	LogFormat string
	LogFile   string
}

// fileConfig mirrors Config for CONFIG_FILE. Tokens are never read from disk.
type fileConfig struct {
	WorkingDirectory string   `yaml:"working_directory"`
	TargetBranch     string   `yaml:"target_branch"`
	PublishPaths     []string `yaml:"publish_paths"`
	GenerateCommand  string   `yaml:"generate_command"`
	GenerateShell    string   `yaml:"generate_shell"`
	Remote           string   `yaml:"remote"`
	CommitMessage    string   `yaml:"commit_message"`
	Push             *bool    `yaml:"push"`
	CommentOnPR      *bool    `yaml:"comment_on_pr"`
	GitHubBaseURL    string   `yaml:"github_base_url"`
	GitHubUploadURL  string   `yaml:"github_upload_url"`
	GitBackend       string   `yaml:"git_backend"`
	GitUserName      string   `yaml:"git_user_name"`
	GitUserEmail     string   `yaml:"git_user_email"`
	InsecureSkipTLS  *bool    `yaml:"insecure_skip_tls"`
	HTTPSProxy       string   `yaml:"https_proxy"`
	DryRun           *bool    `yaml:"dry_run"`
	Verbose          *bool    `yaml:"verbose"`
	LogLevel         string   `yaml:"log_level"`
	LogFormat        string   `yaml:"log_format"`
	LogFile          string   `yaml:"log_file"`
}

// LoadConfig layers INPUT_* environment variables over CONFIG_FILE over the
// defaults, then applies overrides in order, such as command line flags, and
// validates the result.
func LoadConfig(overrides ...func(*Config)) (Config, error) {
	cfg, err := readConfig()
	if err != nil {
		return Config{}, err
	}
	for _, override := range overrides {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readConfig() (Config, error) {
	cfg := Config{
		WorkingDirectory: defaultWorkingDirectory,
		TargetBranch:     defaultTargetBranch,
		GenerateShell:    generate.DefaultShell,
		Remote:           defaultRemote,
		CommitMessage:    defaultCommitMessage,
		Push:             true,
		GitBackend:       defaultGitBackend,
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
	}

	if path := strings.TrimSpace(os.Getenv("INPUT_CONFIG_FILE")); path != "" {
		fc, err := readConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg.applyFile(fc)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readConfigFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func (c *Config) applyFile(fc fileConfig) {
	setString(&c.WorkingDirectory, fc.WorkingDirectory)
	setString(&c.TargetBranch, fc.TargetBranch)
	if len(fc.PublishPaths) > 0 {
		c.PublishPaths = paths.ParsePrefixes(strings.Join(fc.PublishPaths, "\n"))
	}
	setString(&c.GenerateCommand, fc.GenerateCommand)
	setString(&c.GenerateShell, fc.GenerateShell)
	setString(&c.Remote, fc.Remote)
	setString(&c.CommitMessage, fc.CommitMessage)
	setBool(&c.Push, fc.Push)
	setBool(&c.CommentOnPR, fc.CommentOnPR)
	setString(&c.GitHubBaseURL, fc.GitHubBaseURL)
	setString(&c.GitHubUploadURL, fc.GitHubUploadURL)
	setString(&c.GitBackend, fc.GitBackend)
	setString(&c.GitUserName, fc.GitUserName)
	setString(&c.GitUserEmail, fc.GitUserEmail)
	setBool(&c.InsecureSkipTLS, fc.InsecureSkipTLS)
	setString(&c.HTTPSProxy, fc.HTTPSProxy)
	setBool(&c.DryRun, fc.DryRun)
	setBool(&c.Verbose, fc.Verbose)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	setString(&c.LogFile, fc.LogFile)
}

func (c *Config) applyEnv() error {
	c.WorkingDirectory = envOrDefault("INPUT_WORKING_DIRECTORY", c.WorkingDirectory)
	c.TargetBranch = envOrDefault("INPUT_TARGET_BRANCH", c.TargetBranch)
	if raw := strings.TrimSpace(os.Getenv("INPUT_PUBLISH_PATHS")); raw != "" {
		c.PublishPaths = paths.ParsePrefixes(raw)
	}
	// The generate script keeps its own whitespace.
	if raw := os.Getenv("INPUT_GENERATE_COMMAND"); strings.TrimSpace(raw) != "" {
		c.GenerateCommand = raw
	}
	c.GenerateShell = envOrDefault("INPUT_GENERATE_SHELL", c.GenerateShell)
	c.Remote = envOrDefault("INPUT_REMOTE", c.Remote)
	c.CommitMessage = envOrDefault("INPUT_COMMIT_MESSAGE", c.CommitMessage)

	c.GitHubToken = strings.TrimSpace(os.Getenv("INPUT_GITHUB_TOKEN"))
	if c.GitHubToken == "" {
		c.GitHubToken = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	}
	c.GitHubBaseURL = envOrDefault("INPUT_GITHUB_BASE_URL", c.GitHubBaseURL)
	c.GitHubUploadURL = envOrDefault("INPUT_GITHUB_UPLOAD_URL", c.GitHubUploadURL)

	c.GitBackend = envOrDefault("INPUT_GIT_BACKEND", c.GitBackend)
	c.GitUserName = envOrDefault("INPUT_GIT_USER_NAME", c.GitUserName)
	c.GitUserEmail = envOrDefault("INPUT_GIT_USER_EMAIL", c.GitUserEmail)
	c.HTTPSProxy = envOrDefault("INPUT_HTTPS_PROXY", c.HTTPSProxy)

	c.LogLevel = envOrDefault("INPUT_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("INPUT_LOG_FORMAT", c.LogFormat)
	c.LogFile = envOrDefault("INPUT_LOG_FILE", c.LogFile)

	bools := []struct {
		key string
		dst *bool
	}{
		{"INPUT_PUSH", &c.Push},
		{"INPUT_COMMENT_ON_PR", &c.CommentOnPR},
		{"INPUT_INSECURE_SKIP_TLS", &c.InsecureSkipTLS},
		{"INPUT_DRY_RUN", &c.DryRun},
		{"INPUT_VERBOSE", &c.Verbose},
	}
	for _, b := range bools {
		raw := strings.TrimSpace(os.Getenv(b.key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", b.key, err)
		}
		*b.dst = v
	}
	return nil
}

// Validate normalizes the configuration, fills remaining defaults and rejects
// unusable combinations.
func (c *Config) Validate() error {
	c.WorkingDirectory = strings.TrimSpace(c.WorkingDirectory)
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = defaultWorkingDirectory
	}

	c.TargetBranch = refs.NormalizeBranch(c.TargetBranch)
	if c.TargetBranch == "" {
		return fmt.Errorf("target branch is required")
	}
	if err := refs.ValidateBranch(c.TargetBranch); err != nil {
		return fmt.Errorf("invalid target branch %q: %w", c.TargetBranch, err)
	}

	if len(c.PublishPaths) == 0 {
		return fmt.Errorf("at least one publish path is required (set INPUT_PUBLISH_PATHS)")
	}

	if (c.GitHubBaseURL == "") != (c.GitHubUploadURL == "") {
		return fmt.Errorf("INPUT_GITHUB_BASE_URL and INPUT_GITHUB_UPLOAD_URL must both be set for GitHub Enterprise")
	}

	c.GitBackend = strings.ToLower(strings.TrimSpace(c.GitBackend))
	if c.GitBackend == "" {
		c.GitBackend = defaultGitBackend
	}
	if _, ok := supportedGitBackends[c.GitBackend]; !ok {
		return fmt.Errorf("unsupported git backend %q", c.GitBackend)
	}

	// An empty identity defers to the repository's git config.
	c.GitUserName = strings.TrimSpace(c.GitUserName)
	c.GitUserEmail = strings.TrimSpace(c.GitUserEmail)
	if strings.TrimSpace(c.Remote) == "" {
		c.Remote = defaultRemote
	}
	if strings.TrimSpace(c.CommitMessage) == "" {
		c.CommitMessage = defaultCommitMessage
	}
	if strings.TrimSpace(c.GenerateShell) == "" {
		c.GenerateShell = generate.DefaultShell
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	supportedFormats := map[string]struct{}{"text": {}, "json": {}}
	if _, ok := supportedFormats[c.LogFormat]; !ok {
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}

	if c.Verbose {
		c.LogLevel = "debug"
	}

	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

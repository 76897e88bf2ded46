package usecases

import (
	"fmt"
	"path"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// DefaultRuleName names the rule used when no rules are configured.
const DefaultRuleName = "default"

// SimpleRule matches every commit and builds it with one script.
type SimpleRule struct {
	name   string
	script string
	env    *BuildEnv
}

// NewSimpleRule creates a rule that applies to every commit.
func NewSimpleRule(name, script string, env *BuildEnv) *SimpleRule {
	if name == "" {
		name = DefaultRuleName
	}
	if script == "" {
		script = domain.DefaultScript
	}
	return &SimpleRule{name: name, script: script, env: env}
}

// Name identifies the rule.
func (r *SimpleRule) Name() string { return r.name }

// Match always reports true.
func (r *SimpleRule) Match(domain.Commit) bool { return true }

// Get returns an executor for commit.
func (r *SimpleRule) Get(commit domain.Commit) domain.Build {
	return NewExecutor(r.env, commit, r.name, r.script)
}

// RepositoryRule matches commits whose repository name matches a glob.
type RepositoryRule struct {
	name    string
	pattern string
	script  string
	env     *BuildEnv
}

// NewRepositoryRule creates a rule for repositories matching pattern (path.Match syntax).
func NewRepositoryRule(name, pattern, script string, env *BuildEnv) (*RepositoryRule, error) {
	if pattern == "" {
		return nil, fmt.Errorf("rule %q: pattern is required", name)
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("rule %q: invalid pattern %q: %w", name, pattern, err)
	}
	if script == "" {
		script = domain.DefaultScript
	}
	return &RepositoryRule{name: name, pattern: pattern, script: script, env: env}, nil
}

// Name identifies the rule.
func (r *RepositoryRule) Name() string { return r.name }

// Match reports whether the commit's repository name matches the pattern.
func (r *RepositoryRule) Match(commit domain.Commit) bool {
	ok, err := path.Match(r.pattern, commit.Repository.Name)
	return err == nil && ok
}

// Get returns an executor for commit.
func (r *RepositoryRule) Get(commit domain.Commit) domain.Build {
	return NewExecutor(r.env, commit, r.name, r.script)
}

// MatchFirst returns the first rule that matches commit. Later rules are not consulted.
func MatchFirst(rules []domain.BuildRule, commit domain.Commit) (domain.BuildRule, bool) {
	for _, rule := range rules {
		if rule.Match(commit) {
			return rule, true
		}
	}
	return nil, false
}

// NewRules builds the configured rule list in order. With no configuration the
// list is a single SimpleRule running defaultScript.
func NewRules(cfgs []domain.RuleConfig, defaultScript string, env *BuildEnv) ([]domain.BuildRule, error) {
	if len(cfgs) == 0 {
		return []domain.BuildRule{NewSimpleRule(DefaultRuleName, defaultScript, env)}, nil
	}

	rules := make([]domain.BuildRule, 0, len(cfgs))
	for i, cfg := range cfgs {
		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}
		script := cfg.Script
		if script == "" {
			script = defaultScript
		}

		switch cfg.Kind {
		case domain.RuleSimple, "":
			rules = append(rules, NewSimpleRule(name, script, env))
		case domain.RuleRepository:
			rule, err := NewRepositoryRule(name, cfg.Pattern, script, env)
			if err != nil {
				return nil, err
			}
			rules = append(rules, rule)
		default:
			return nil, fmt.Errorf("rule %q: unknown kind %q", name, cfg.Kind)
		}
	}
	return rules, nil
}

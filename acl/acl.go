// Package acl implements the pattern-based access control list that gates
// every module-to-module call made through the executor.
package acl

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	apcerrors "github.com/aipartnerup/apcore-go/errors"
	"github.com/aipartnerup/apcore-go/invocation"
	"github.com/aipartnerup/apcore-go/logging"
	"github.com/aipartnerup/apcore-go/pattern"
)

// Effect is the outcome of a matched rule.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// Conditions further constrain a rule beyond caller/target pattern match.
type Conditions struct {
	IdentityTypes []string `yaml:"identity_types,omitempty"`
	Roles         []string `yaml:"roles,omitempty"`
	MaxCallDepth  *int     `yaml:"max_call_depth,omitempty"`
}

// Rule is a single ordered access-control rule. Rules are evaluated in
// order; the first match wins.
type Rule struct {
	Callers     []string    `yaml:"callers"`
	Targets     []string    `yaml:"targets"`
	Effect      Effect      `yaml:"effect"`
	Description string      `yaml:"description,omitempty"`
	Conditions  *Conditions `yaml:"conditions,omitempty"`
}

type ruleFile struct {
	DefaultEffect string `yaml:"default_effect"`
	Rules         []Rule `yaml:"rules"`
}

// ACL enforces first-match-wins, pattern-based access control between
// modules. All public methods are safe to call concurrently.
type ACL struct {
	mu            sync.Mutex
	rules         []Rule
	defaultEffect Effect
	yamlPath      string
	logger        logging.Logger
}

// New constructs an ACL from an already-parsed ordered rule list.
func New(rules []Rule, defaultEffect Effect, logger logging.Logger) *ACL {
	if defaultEffect == "" {
		defaultEffect = Deny
	}
	if logger == nil {
		logger = logging.Noop()
	}
	return &ACL{
		rules:         append([]Rule(nil), rules...),
		defaultEffect: defaultEffect,
		logger:        logger,
	}
}

// Load reads and validates an ACL definition from a YAML file.
func Load(yamlPath string, logger logging.Logger) (*ACL, error) {
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apcerrors.NewConfigNotFound(yamlPath)
		}
		return nil, apcerrors.NewACLRuleError(fmt.Sprintf("cannot read %s: %v", yamlPath, err))
	}

	var raw ruleFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apcerrors.NewACLRuleError(fmt.Sprintf("invalid YAML in %s: %v", yamlPath, err))
	}
	if raw.Rules == nil {
		return nil, apcerrors.NewACLRuleError(fmt.Sprintf("%s is missing required key 'rules'", yamlPath))
	}

	for i, rule := range raw.Rules {
		if rule.Callers == nil {
			return nil, apcerrors.NewACLRuleError(fmt.Sprintf("rule %d missing required key 'callers'", i))
		}
		if rule.Targets == nil {
			return nil, apcerrors.NewACLRuleError(fmt.Sprintf("rule %d missing required key 'targets'", i))
		}
		if rule.Effect != Allow && rule.Effect != Deny {
			return nil, apcerrors.NewACLRuleError(
				fmt.Sprintf("rule %d has invalid effect %q, must be 'allow' or 'deny'", i, rule.Effect))
		}
	}

	defaultEffect := Effect(raw.DefaultEffect)
	if defaultEffect == "" {
		defaultEffect = Deny
	}
	if defaultEffect != Allow && defaultEffect != Deny {
		return nil, apcerrors.NewACLRuleError(
			fmt.Sprintf("default_effect must be 'allow' or 'deny', got %q", raw.DefaultEffect))
	}

	a := New(raw.Rules, defaultEffect, logger)
	a.yamlPath = yamlPath
	return a, nil
}

// Check decides whether callerID (nil for an external/unauthenticated
// caller) may invoke targetID, consulting ctx for conditional rules.
func (a *ACL) Check(callerID *string, targetID string, ctx *invocation.Context) bool {
	effectiveCaller := "@external"
	if callerID != nil {
		effectiveCaller = *callerID
	}

	a.mu.Lock()
	rules := append([]Rule(nil), a.rules...)
	defaultEffect := a.defaultEffect
	a.mu.Unlock()

	for _, rule := range rules {
		if a.matchesRule(rule, effectiveCaller, targetID, ctx) {
			decision := rule.Effect == Allow
			a.logger.Debug("acl check", "caller", deref(callerID), "target", targetID,
				"decision", rule.Effect, "rule", orDefault(rule.Description, "(no description)"))
			return decision
		}
	}

	a.logger.Debug("acl check", "caller", deref(callerID), "target", targetID,
		"decision", defaultEffect, "rule", "default")
	return defaultEffect == Allow
}

func (a *ACL) matchPattern(p, value string, ctx *invocation.Context) bool {
	switch p {
	case "@external":
		return value == "@external"
	case "@system":
		return ctx != nil && ctx.Identity != nil && ctx.Identity.Type == "system"
	default:
		return pattern.Match(p, value)
	}
}

func (a *ACL) matchesRule(rule Rule, caller, target string, ctx *invocation.Context) bool {
	callerMatch := false
	for _, p := range rule.Callers {
		if a.matchPattern(p, caller, ctx) {
			callerMatch = true
			break
		}
	}
	if !callerMatch {
		return false
	}

	targetMatch := false
	for _, p := range rule.Targets {
		if a.matchPattern(p, target, ctx) {
			targetMatch = true
			break
		}
	}
	if !targetMatch {
		return false
	}

	if rule.Conditions != nil {
		return a.checkConditions(rule.Conditions, ctx)
	}
	return true
}

func (a *ACL) checkConditions(cond *Conditions, ctx *invocation.Context) bool {
	if ctx == nil {
		return false
	}

	if len(cond.IdentityTypes) > 0 {
		if ctx.Identity == nil || !contains(cond.IdentityTypes, ctx.Identity.Type) {
			return false
		}
	}

	if len(cond.Roles) > 0 {
		if ctx.Identity == nil || !intersects(ctx.Identity.Roles, cond.Roles) {
			return false
		}
	}

	if cond.MaxCallDepth != nil {
		if len(ctx.CallChain) > *cond.MaxCallDepth {
			return false
		}
	}

	return true
}

// AddRule inserts rule at position 0, giving it the highest priority.
func (a *ACL) AddRule(rule Rule) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules = append([]Rule{rule}, a.rules...)
}

// RemoveRule removes the first rule whose callers/targets match exactly.
// Reports whether a rule was found and removed.
func (a *ACL) RemoveRule(callers, targets []string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, rule := range a.rules {
		if stringsEqual(rule.Callers, callers) && stringsEqual(rule.Targets, targets) {
			a.rules = append(a.rules[:i], a.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Reload re-reads the ACL from its original YAML file. Only valid for an
// ACL constructed via Load.
func (a *ACL) Reload() error {
	a.mu.Lock()
	yamlPath := a.yamlPath
	logger := a.logger
	a.mu.Unlock()

	if yamlPath == "" {
		return apcerrors.NewACLRuleError("cannot reload: ACL was not loaded from a YAML file")
	}

	reloaded, err := Load(yamlPath, logger)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.rules = reloaded.rules
	a.defaultEffect = reloaded.defaultEffect
	a.mu.Unlock()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return "<external>"
	}
	return *s
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

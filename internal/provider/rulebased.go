// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// RULE TABLE
// =============================================================================

// rule pairs a trigger pattern with a fixed reply. Rules are evaluated in
// order against the latest user turn; the first match wins.
type rule struct {
	pattern *regexp.Regexp
	reply   string
}

var defaultRules = []rule{
	{
		pattern: regexp.MustCompile(`(?i)\b(hello|hi|hey|greetings)\b`),
		reply:   "Hello%s! How can I help you today?",
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(bye|goodbye|see you|farewell)\b`),
		reply:   "Goodbye%s! It was nice chatting with you.",
	},
	{
		pattern: regexp.MustCompile(`(?i)how are you`),
		reply:   "I'm doing well, thank you for asking%s! How are you?",
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(your name|who are you)\b`),
		reply:   "I'm a rule-based assistant. I match patterns in what you say and reply from a fixed table.",
	},
	{
		pattern: regexp.MustCompile(`(?i)\bhelp\b`),
		reply:   "I can chat about simple topics%s. Try greeting me, asking how I am, or asking about programming.",
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(code|coding|program|programming|software)\b`),
		reply:   "Programming is a great topic%s! I'm partial to Go myself, though I only know what my rules tell me.",
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(thanks|thank you)\b`),
		reply:   "You're welcome%s!",
	},
}

const rulesDefaultReply = "I'm not sure how to respond to that%s. Could you rephrase, or ask for help?"

// namePattern extracts a self-introduced name from a user turn.
var namePattern = regexp.MustCompile(`(?i)(?:i'm|i am|my name is|call me)\s+(\w+)`)

// =============================================================================
// RULE-BASED PROVIDER
// =============================================================================

// RuleBased is a deterministic offline provider. It needs no credentials,
// no network, and no model files, which makes it the fallback when nothing
// else is configured. It remembers a user-introduced name from recent
// turns and weaves it into replies.
type RuleBased struct {
	rules        []rule
	defaultReply string
}

// NewRuleBased constructs the provider with the built-in rule table.
func NewRuleBased() *RuleBased {
	return &RuleBased{
		rules:        defaultRules,
		defaultReply: rulesDefaultReply,
	}
}

// Name implements Provider.
func (r *RuleBased) Name() string { return "rule-based" }

// Generate implements Provider. It matches the latest user turn against
// the rule table and returns the first matching reply. The call is pure:
// the same context always yields the same reply.
func (r *RuleBased) Generate(ctx context.Context, turns []model.Turn) (string, error) {
	if err := validateContext(turns); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	latest := latestUserContent(turns)
	if strings.TrimSpace(latest) == "" {
		return "", ErrEmptyContext
	}

	name := extractName(turns)
	suffix := ""
	if name != "" {
		suffix = ", " + name
	}

	for _, rl := range r.rules {
		if rl.pattern.MatchString(latest) {
			return personalize(rl.reply, suffix), nil
		}
	}
	return personalize(r.defaultReply, suffix), nil
}

// latestUserContent returns the content of the most recent user turn.
func latestUserContent(turns []model.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == model.RoleUser {
			return turns[i].Content
		}
	}
	return ""
}

// extractName scans the last few user turns, newest first, for a
// self-introduction like "my name is Ada" and returns the captured name.
func extractName(turns []model.Turn) string {
	const lookback = 5
	seen := 0
	for i := len(turns) - 1; i >= 0 && seen < lookback; i-- {
		if turns[i].Role != model.RoleUser {
			continue
		}
		seen++
		if m := namePattern.FindStringSubmatch(turns[i].Content); m != nil {
			return capitalize(m[1])
		}
	}
	return ""
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// personalize fills the optional name slot in a reply template.
func personalize(template, suffix string) string {
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, suffix)
	}
	return template
}

// Package resolver implements the templated response table for the chat widget.
//
// Resolution is a pure function over an ordered list of (keyword set, template)
// rules: the input is case-folded and the first rule whose keyword set matches
// wins. A miss signals the caller to fall back to the remote completion client.
package resolver

import (
	"log/slog"
	"strings"
)

// Rule binds a keyword set to a fixed response template. A rule matches when
// the case-folded input contains any of its keywords.
type Rule struct {
	Keywords []string
	Response string
}

// Resolver evaluates rules in declaration order; the first match wins.
// A Resolver is immutable after construction and safe for concurrent use.
type Resolver struct {
	rules []Rule
}

// New creates a resolver over the given rules. Rule order is significant:
// it is the tie-break when an input matches more than one keyword set.
func New(rules []Rule) *Resolver {
	return &Resolver{rules: rules}
}

// Default returns the built-in response table used by practices that have not
// configured custom answers. Declaration order is load-bearing.
func Default() *Resolver {
	return New([]Rule{
		{
			Keywords: []string{"hour", "open", "close", "when are you"},
			Response: "Our front desk can confirm today's hours for you. Most of our practices are open weekdays from 9am to 5pm - check the hours listed on the practice website or give them a quick call.",
		},
		{
			Keywords: []string{"insurance", "coverage", "covered", "ppo", "hmo"},
			Response: "We work with most major dental insurance plans. Bring your insurance card to your visit and the front desk will verify your coverage before any treatment.",
		},
		{
			Keywords: []string{"emergency", "urgent", "severe pain", "knocked out", "bleeding"},
			Response: "If this is a dental emergency, please call the practice directly right away. If you are experiencing a life-threatening emergency, call 911.",
		},
		{
			Keywords: []string{"appointment", "book", "schedule", "availability"},
			Response: "We'd love to see you! The fastest way to book is to call the practice or use the scheduling link on their website, and the team will find a time that works for you.",
		},
		{
			Keywords: []string{"cost", "price", "how much", "fee", "payment plan"},
			Response: "Treatment costs depend on your exam and insurance coverage, so we can't quote an exact price in chat. The practice offers payment options and will walk you through costs before any work begins.",
		},
		{
			Keywords: []string{"cleaning", "checkup", "check-up", "exam"},
			Response: "Routine cleanings and exams are recommended every six months. A typical visit takes about an hour and includes a cleaning, x-rays when due, and an exam with the dentist.",
		},
		{
			Keywords: []string{"whitening", "whiten", "bleach"},
			Response: "We offer professional whitening that is safer and more effective than over-the-counter kits. Ask about whitening at your next visit and the dentist will confirm you're a good candidate.",
		},
		{
			Keywords: []string{"location", "address", "where are you", "parking", "directions"},
			Response: "You can find the practice address, directions, and parking details on their website. If you have trouble finding the office, the front desk is happy to help by phone.",
		},
	})
}

// Resolve returns the template bound to the first matching rule and true, or
// ("", false) when no rule matches. Side-effect-free; malformed or empty input
// is treated as a miss.
func (r *Resolver) Resolve(input string) (string, bool) {
	folded := strings.ToLower(strings.TrimSpace(input))
	if folded == "" {
		return "", false
	}
	for _, rule := range r.rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(folded, strings.ToLower(kw)) {
				return rule.Response, true
			}
		}
	}
	slog.Debug("Resolver.Resolve: no template match", "inputLength", len(input))
	return "", false
}

// ResolveWithOverrides evaluates operator-defined override rules ahead of the
// built-in table. Overrides are evaluated in the order given (creation order),
// first match wins across the combined sequence.
func (r *Resolver) ResolveWithOverrides(input string, overrides []Rule) (string, bool) {
	if len(overrides) > 0 {
		if resp, ok := New(overrides).Resolve(input); ok {
			return resp, true
		}
	}
	return r.Resolve(input)
}

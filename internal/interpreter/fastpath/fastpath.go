// Package fastpath implements the local keyword classifier that resolves
// common commands without a network round trip.
package fastpath

import (
	"regexp"
	"strings"

	"github.com/nadzzz/macaria/internal/message"
)

// Predicate reports whether a normalized utterance satisfies a rule.
type Predicate func(normalized string) bool

// Rule maps a predicate to the command it produces.
type Rule struct {
	Name    string
	Command message.Command
	Match   Predicate
}

// Matcher evaluates its rules in order; the first hit wins.
type Matcher struct {
	rules    []Rule
	negation *regexp.Regexp
}

// words compiles a whole-word alternation. Boundaries are Unicode aware so
// accented words such as "atrás" match as a unit.
func words(alts ...string) *regexp.Regexp {
	quoted := make([]string, len(alts))
	for i, a := range alts {
		quoted[i] = regexp.QuoteMeta(a)
	}
	return regexp.MustCompile(`(?:^|[^\p{L}\p{N}])(?:` + strings.Join(quoted, "|") + `)(?:[^\p{L}\p{N}]|$)`)
}

func has(re *regexp.Regexp) Predicate {
	return re.MatchString
}

func all(res ...*regexp.Regexp) Predicate {
	return func(s string) bool {
		for _, re := range res {
			if !re.MatchString(s) {
				return false
			}
		}
		return true
	}
}

var (
	advanceWords = words("adelante", "avanza", "avance", "avanzar")
	reverseWords = words("atrás", "atras", "retrocede", "retroceder")
	stopWords    = words("alto", "detente", "detener", "stop", "parar")
	rightWord    = words("derecha")
	leftWord     = words("izquierda")
	ninety       = words("90", "noventa")
	fullTurn     = words("360", "trescientos sesenta")
	turnWords    = words("vuelta", "gira", "girar")

	negationMarkers = []string{"no", "nunca", "contrario", "opuesto", "inverso", "sin"}
	negationWords   = words(negationMarkers...)
)

// DefaultRules returns the built-in rule list in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "advance", Command: message.Advance, Match: has(advanceWords)},
		{Name: "reverse", Command: message.Reverse, Match: has(reverseWords)},
		{Name: "stop", Command: message.Stop, Match: has(stopWords)},
		{Name: "right-90", Command: message.Rotate90Right, Match: all(rightWord, ninety)},
		{Name: "left-90", Command: message.Rotate90Left, Match: all(leftWord, ninety)},
		{Name: "right-360", Command: message.Rotate360Right, Match: all(rightWord, fullTurn)},
		{Name: "left-360", Command: message.Rotate360Left, Match: all(leftWord, fullTurn)},
		{Name: "right-turn", Command: message.TurnRight, Match: all(turnWords, rightWord)},
		{Name: "left-turn", Command: message.TurnLeft, Match: all(turnWords, leftWord)},
	}
}

// New returns a Matcher over the default rules.
func New() *Matcher {
	return &Matcher{rules: DefaultRules(), negation: negationWords}
}

// Match classifies an already normalized utterance. It never returns
// message.Unrecognized; a miss is reported through the boolean.
func (m *Matcher) Match(normalized string) (message.Command, bool) {
	r, ok := m.Explain(normalized)
	if !ok {
		return "", false
	}
	return r.Command, true
}

// Explain returns the first matching rule. Utterances carrying a negation
// or inversion marker always miss.
func (m *Matcher) Explain(normalized string) (Rule, bool) {
	if normalized == "" || m.negation.MatchString(normalized) {
		return Rule{}, false
	}
	for _, r := range m.rules {
		if r.Match(normalized) {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns a copy of the ordered rule list.
func (m *Matcher) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	copy(out, m.rules)
	return out
}

// NegationMarkers lists the words that decline the fast path.
func NegationMarkers() []string {
	out := make([]string, len(negationMarkers))
	copy(out, negationMarkers)
	return out
}

// Package router scores inbound messages against registered skill profiles
// and emits routing decisions. Routing is a pure function of the message and
// the compiled profile set: no I/O, no mutation, deterministic.
package router

import (
	"fmt"
	"regexp"
	"strings"

	"starkagent/pkg/fault"
	"starkagent/pkg/proto"
)

// GeneralSkill is the reserved fallback skill for low-confidence inputs.
const GeneralSkill = "general"

// Scoring constants. A keyword occurrence contributes scoreKeyword, a
// whole-word occurrence adds scoreWholeWord on top, each regex match
// contributes scoreRegex, and priority adds scorePriority per point.
const (
	scoreKeyword   = 0.10
	scoreWholeWord = 0.05
	scoreRegex     = 0.20
	scorePriority  = 0.01

	// confidenceFloor routes to the general skill when no profile clears it.
	confidenceFloor = 0.10
	// fallbackFloor is the minimum runner-up score to surface as fallback.
	// Half the confidence floor, so priority-only matches still surface.
	fallbackFloor = 0.05
	// generalConfidence is the confidence reported for floor-routed inputs.
	generalConfidence = 0.50
)

// Extractor derives best-effort skill parameters from the raw message text.
// Extraction failures never fail routing.
type Extractor func(text string) map[string]string

// Profile is a static skill descriptor registered at startup.
type Profile struct {
	Name     string
	Keywords []string
	Patterns []string // regular expressions, compiled at registration
	Priority int
	Extract  Extractor // optional
}

// compiledProfile holds the patterns compiled once at registration.
type compiledProfile struct {
	name     string
	keywords []string // lowercased
	wordRes  []*regexp.Regexp
	patterns []*regexp.Regexp
	priority int
	extract  Extractor
}

// Router holds the compiled profile set. Registration happens at startup;
// Route is read-only and safe for concurrent use afterwards.
type Router struct {
	profiles []compiledProfile
	names    map[string]bool
}

// New creates an empty router.
func New() *Router {
	return &Router{names: make(map[string]bool)}
}

// Register compiles and adds a profile. Duplicate names and malformed
// patterns are invariant violations.
func (r *Router) Register(p Profile) error {
	if p.Name == "" {
		return fault.New(fault.KindFatal, "router", "profile has no name")
	}
	if r.names[p.Name] {
		return fault.New(fault.KindFatal, "router", "duplicate profile %q", p.Name)
	}

	cp := compiledProfile{
		name:     p.Name,
		priority: p.Priority,
		extract:  p.Extract,
	}

	for _, kw := range p.Keywords {
		lowered := strings.ToLower(kw)
		cp.keywords = append(cp.keywords, lowered)
		cp.wordRes = append(cp.wordRes, regexp.MustCompile(`\b`+regexp.QuoteMeta(lowered)+`\b`))
	}

	for _, pat := range p.Patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return fault.Wrap(err, fault.KindFatal, "router", fmt.Sprintf("profile %q pattern %q", p.Name, pat))
		}
		cp.patterns = append(cp.patterns, re)
	}

	r.profiles = append(r.profiles, cp)
	r.names[p.Name] = true
	return nil
}

// Profiles returns the registered profile names in registration order.
func (r *Router) Profiles() []string {
	names := make([]string, len(r.profiles))
	for i := range r.profiles {
		names[i] = r.profiles[i].name
	}
	return names
}

// Route scores the message against every profile and returns a decision.
// It never fails: empty input and empty profile sets route to the general
// skill. The decision timestamp is taken from the message so identical
// inputs produce identical decisions.
func (r *Router) Route(msg proto.Message) proto.RoutingDecision {
	if strings.TrimSpace(msg.Text) == "" {
		return proto.RoutingDecision{
			Skill:      GeneralSkill,
			Confidence: generalConfidence,
			Params:     map[string]string{"raw": msg.Text},
			Reasoning:  "empty input",
			Timestamp:  msg.Timestamp,
		}
	}
	if len(r.profiles) == 0 {
		return proto.RoutingDecision{
			Skill:      GeneralSkill,
			Confidence: generalConfidence,
			Params:     map[string]string{"raw": msg.Text},
			Reasoning:  "no profiles",
			Timestamp:  msg.Timestamp,
		}
	}

	lowered := strings.ToLower(msg.Text)

	type scored struct {
		profile *compiledProfile
		score   float64
		reasons []string
	}

	best := scored{score: -1}
	runnerUp := scored{score: -1}

	for i := range r.profiles {
		p := &r.profiles[i]
		score, reasons := p.score(msg.Text, lowered)

		s := scored{profile: p, score: score, reasons: reasons}
		if better(s.score, p, best.score, best.profile) {
			runnerUp = best
			best = s
		} else if better(s.score, p, runnerUp.score, runnerUp.profile) {
			runnerUp = s
		}
	}

	if best.score < confidenceFloor {
		return proto.RoutingDecision{
			Skill:      GeneralSkill,
			Confidence: generalConfidence,
			Params:     map[string]string{"raw": msg.Text},
			Reasoning:  fmt.Sprintf("no profile above floor (best %q scored %.2f)", best.profile.name, best.score),
			Timestamp:  msg.Timestamp,
		}
	}

	decision := proto.RoutingDecision{
		Skill:      best.profile.name,
		Confidence: best.score,
		Params:     extractParams(best.profile, msg.Text),
		Reasoning:  fmt.Sprintf("%s: %s", best.profile.name, strings.Join(best.reasons, ", ")),
		Timestamp:  msg.Timestamp,
	}
	if runnerUp.profile != nil && runnerUp.score > fallbackFloor {
		decision.Fallback = runnerUp.profile.name
	}
	return decision
}

// better orders candidates by score, then priority, then name for determinism.
func better(score float64, p *compiledProfile, bestScore float64, bestProfile *compiledProfile) bool {
	if bestProfile == nil {
		return true
	}
	if score != bestScore {
		return score > bestScore
	}
	if p.priority != bestProfile.priority {
		return p.priority > bestProfile.priority
	}
	return p.name < bestProfile.name
}

// score computes the clamped [0,1] match score plus human-readable reasons.
func (p *compiledProfile) score(raw, lowered string) (float64, []string) {
	var score float64
	var reasons []string

	for i, kw := range p.keywords {
		if !strings.Contains(lowered, kw) {
			continue
		}
		score += scoreKeyword
		if p.wordRes[i].MatchString(lowered) {
			score += scoreWholeWord
			reasons = append(reasons, fmt.Sprintf("keyword %q (whole word)", kw))
		} else {
			reasons = append(reasons, fmt.Sprintf("keyword %q", kw))
		}
	}

	for _, re := range p.patterns {
		matches := re.FindAllString(raw, -1)
		if len(matches) == 0 {
			continue
		}
		score += scoreRegex * float64(len(matches))
		reasons = append(reasons, fmt.Sprintf("pattern %s x%d", re.String(), len(matches)))
	}

	if p.priority != 0 {
		score += scorePriority * float64(p.priority)
		reasons = append(reasons, fmt.Sprintf("priority %d", p.priority))
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score, reasons
}

// extractParams runs the profile extractor, always including the raw message.
func extractParams(p *compiledProfile, text string) map[string]string {
	params := map[string]string{"raw": text}
	if p.extract == nil {
		return params
	}
	for k, v := range p.extract(text) {
		params[k] = v
	}
	return params
}

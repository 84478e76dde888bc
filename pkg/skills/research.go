package skills

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"starkagent/pkg/proto"
	"starkagent/pkg/router"
	"starkagent/pkg/state"
)

const researchSystemPrompt = `You are a crypto research assistant for a Starknet automation platform.
Answer with a short, sourced summary. Use the available tools for live data.`

type researchSkill struct{}

func (s *researchSkill) Name() string { return "research" }

func (s *researchSkill) Profile() router.Profile {
	return router.Profile{
		Name:     s.Name(),
		Keywords: []string{"research", "analyze", "explain", "deep dive"},
		Priority: 8,
		Extract:  router.ExtractQuery("research", "analyze", "explain"),
	}
}

// Handle answers research questions with the model when one is configured,
// otherwise it serves the latest stored report on the topic. Fresh answers
// are recorded as research reports.
func (s *researchSkill) Handle(ctx context.Context, decision proto.RoutingDecision, caps Capabilities) (string, error) {
	query := decision.Params["query"]
	if query == "" {
		query = decision.Params["raw"]
	}

	answer, err := caps.complete(ctx, researchSystemPrompt, query)
	if err == nil {
		report := state.ResearchReport{
			ID:        uuid.NewString(),
			Topic:     query,
			Summary:   answer,
			Timestamp: time.Now().UTC(),
		}
		if putErr := caps.State.Research.Put(report); putErr != nil {
			return "", fmt.Errorf("failed to store research report: %w", putErr)
		}
		return answer, nil
	}
	if !errors.Is(err, ErrNoModel) {
		return "", err
	}

	return storedReports(caps.State, query), nil
}

// storedReports formats recent reports matching the topic, newest last.
func storedReports(store *state.Store, query string) string {
	needle := strings.ToLower(query)
	reports := store.Research.List(func(r state.ResearchReport) bool {
		return needle == "" || strings.Contains(strings.ToLower(r.Topic), needle)
	}, 0)
	reports = tail(reports, 3)
	if len(reports) == 0 {
		return fmt.Sprintf("no stored research on %q and no model is configured", query)
	}

	var b strings.Builder
	for _, r := range reports {
		fmt.Fprintf(&b, "[%s] %s: %s\n", r.Timestamp.Format("2006-01-02"), r.Topic, r.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

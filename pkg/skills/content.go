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

const contentSystemPrompt = `You write short social content for a Starknet-focused crypto audience.
Keep it under 280 characters, no financial advice, no emoji spam.`

type contentSkill struct{}

func (s *contentSkill) Name() string { return "content" }

func (s *contentSkill) Profile() router.Profile {
	return router.Profile{
		Name:     s.Name(),
		Keywords: []string{"tweet", "post", "content", "thread", "write"},
		Priority: 6,
		Extract:  router.ExtractQuery("tweet about", "post about", "write"),
	}
}

// Handle drafts a piece with the model when available and stores it;
// otherwise it returns the most recent stored drafts.
func (s *contentSkill) Handle(ctx context.Context, decision proto.RoutingDecision, caps Capabilities) (string, error) {
	topic := decision.Params["query"]
	if topic == "" {
		topic = decision.Params["raw"]
	}

	body, err := caps.complete(ctx, contentSystemPrompt, topic)
	if err == nil {
		piece := state.ContentPiece{
			ID:        uuid.NewString(),
			Kind:      "tweet",
			Body:      body,
			Timestamp: time.Now().UTC(),
		}
		if putErr := caps.State.Content.Put(piece); putErr != nil {
			return "", fmt.Errorf("failed to store content draft: %w", putErr)
		}
		return body, nil
	}
	if !errors.Is(err, ErrNoModel) {
		return "", err
	}

	drafts := tail(caps.State.Content.List(nil, 0), 3)
	if len(drafts) == 0 {
		return "no drafts on record and no model is configured", nil
	}
	var b strings.Builder
	for _, d := range drafts {
		fmt.Fprintf(&b, "[%s %s] %s\n", d.Kind, d.Timestamp.Format("01-02 15:04"), d.Body)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

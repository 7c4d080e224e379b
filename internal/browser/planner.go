package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matchpilot/matchpilot/internal/providers"
	"github.com/matchpilot/matchpilot/internal/stop"
)

// ErrStopped is returned when the stop signal interrupts a planner loop.
var ErrStopped = errors.New("stopped by stop signal")

// ResponseCreator is the slice of the provider client the planner needs.
type ResponseCreator interface {
	CreateResponse(ctx context.Context, req *providers.ResponseRequest) (*providers.Response, error)
}

// Surface is what the planner drives: it can look at the page and perform
// one low-level action on it. Rod implements it; tests fake it.
type Surface interface {
	Screenshot(ctx context.Context) (dataURL string, width, height int, err error)
	ExecAction(ctx context.Context, action *providers.ComputerAction) error
}

type plannerState int

const (
	statePlan plannerState = iota
	stateExecute
	stateDone
)

// Planner runs the planner-executor loop: screenshot in, computer action
// out, executed locally, new screenshot back, chained via the previous
// response ID, until the model stops asking for actions or the turn cap
// trips. A turn is one provider round trip; the local execution that
// follows belongs to the same turn.
type Planner struct {
	client      ResponseCreator
	model       string
	maxTurns    int
	turnTimeout time.Duration
	sig         *stop.Signal

	// OnTurn observes each executed turn.
	OnTurn func(turn int, actionType string)
}

func NewPlanner(client ResponseCreator, model string, maxTurns int, turnTimeout time.Duration, sig *stop.Signal) *Planner {
	if maxTurns <= 0 {
		maxTurns = 40
	}
	if turnTimeout <= 0 {
		turnTimeout = 30 * time.Second
	}
	return &Planner{
		client:      client,
		model:       model,
		maxTurns:    maxTurns,
		turnTimeout: turnTimeout,
		sig:         sig,
	}
}

// Run pursues one goal on the surface. Termination is guaranteed: either
// the model returns no further action, the stop signal trips, or the turn
// cap is reached.
func (p *Planner) Run(ctx context.Context, surface Surface, goal string) error {
	shot, width, height, err := surface.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("initial screenshot: %w", err)
	}

	tools := []map[string]interface{}{providers.ComputerUseTool(width, height, "browser")}
	req := &providers.ResponseRequest{
		Model:      p.model,
		Input:      []map[string]interface{}{providers.UserImageInput(goal, shot)},
		Tools:      tools,
		Truncation: "auto",
	}

	state := statePlan
	var pending *providers.OutputItem

	turn := 0
	for {
		if p.sig != nil && p.sig.IsSet() {
			return ErrStopped
		}

		switch state {
		case statePlan:
			turn++
			if turn > p.maxTurns {
				return fmt.Errorf("planner turn cap (%d) reached before goal completed", p.maxTurns)
			}

			turnCtx, cancel := context.WithTimeout(ctx, p.turnTimeout)
			resp, err := p.client.CreateResponse(turnCtx, req)
			cancel()
			if err != nil {
				return fmt.Errorf("planner turn %d: %w", turn, err)
			}
			if rerr := resp.Err(); rerr != nil {
				return fmt.Errorf("planner turn %d: %w", turn, rerr)
			}

			calls := resp.ComputerCalls()
			if len(calls) == 0 {
				state = stateDone
				break
			}
			pending = &calls[0]
			req.PreviousResponseID = resp.ID
			state = stateExecute

		case stateExecute:
			if p.OnTurn != nil {
				actionType := ""
				if pending.Action != nil {
					actionType = pending.Action.Type
				}
				p.OnTurn(turn, actionType)
			}
			if err := surface.ExecAction(ctx, pending.Action); err != nil {
				return fmt.Errorf("execute %s: %w", actionLabel(pending.Action), err)
			}

			shot, _, _, err := surface.Screenshot(ctx)
			if err != nil {
				return fmt.Errorf("post-action screenshot: %w", err)
			}
			req.Input = []map[string]interface{}{
				providers.ComputerCallOutput(pending.CallID, shot, pending.PendingSafetyChecks),
			}
			pending = nil
			state = statePlan
		}

		if state == stateDone {
			return nil
		}
	}
}

func actionLabel(a *providers.ComputerAction) string {
	if a == nil {
		return "noop"
	}
	return a.Type
}

package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/matchpilot/matchpilot/internal/providers"
	"github.com/matchpilot/matchpilot/internal/stop"
)

type fakeSurface struct {
	shots   int
	actions []string
	execErr error
}

func (s *fakeSurface) Screenshot(ctx context.Context) (string, int, int, error) {
	s.shots++
	return fmt.Sprintf("data:image/png;base64,shot%d", s.shots), 1280, 800, nil
}

func (s *fakeSurface) ExecAction(ctx context.Context, a *providers.ComputerAction) error {
	if a != nil {
		s.actions = append(s.actions, a.Type)
	}
	if s.execErr != nil {
		return s.execErr
	}
	return nil
}

type fakeCUA struct {
	reqs  []*providers.ResponseRequest
	queue []func(req *providers.ResponseRequest) (*providers.Response, error)
}

func (f *fakeCUA) CreateResponse(ctx context.Context, req *providers.ResponseRequest) (*providers.Response, error) {
	// The planner reuses and mutates one request struct between turns;
	// snapshot it so each recorded request reflects what was sent.
	snap := *req
	f.reqs = append(f.reqs, &snap)
	if len(f.queue) == 0 {
		return &providers.Response{ID: "resp_done", Status: "completed"}, nil
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next(req)
}

func clickResponse(id, callID string) *providers.Response {
	return &providers.Response{
		ID:     id,
		Status: "completed",
		Output: []providers.OutputItem{{
			Type:   "computer_call",
			CallID: callID,
			Action: &providers.ComputerAction{Type: "click", X: 100, Y: 200},
		}},
	}
}

func doneResponse(id string) *providers.Response {
	return &providers.Response{
		ID:     id,
		Status: "completed",
		Output: []providers.OutputItem{{
			Type:    "message",
			Role:    "assistant",
			Content: []providers.ContentPart{{Type: "output_text", Text: "done"}},
		}},
	}
}

func TestPlannerRunsUntilNoAction(t *testing.T) {
	client := &fakeCUA{queue: []func(*providers.ResponseRequest) (*providers.Response, error){
		func(req *providers.ResponseRequest) (*providers.Response, error) {
			return clickResponse("resp_1", "call_1"), nil
		},
		func(req *providers.ResponseRequest) (*providers.Response, error) {
			return doneResponse("resp_2"), nil
		},
	}}
	surface := &fakeSurface{}
	p := NewPlanner(client, "computer-use-preview", 10, time.Second, nil)

	if err := p.Run(context.Background(), surface, "open the next profile"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(client.reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(client.reqs))
	}
	if got := client.reqs[0].PreviousResponseID; got != "" {
		t.Errorf("first request PreviousResponseID = %q, want empty", got)
	}
	if got := client.reqs[1].PreviousResponseID; got != "resp_1" {
		t.Errorf("second request PreviousResponseID = %q, want resp_1", got)
	}
	if len(client.reqs[1].Input) != 1 {
		t.Fatalf("second request input items = %d, want 1", len(client.reqs[1].Input))
	}
	out := client.reqs[1].Input[0]
	if out["type"] != "computer_call_output" || out["call_id"] != "call_1" {
		t.Errorf("second request input = %v, want computer_call_output for call_1", out)
	}

	if got := surface.actions; len(got) != 1 || got[0] != "click" {
		t.Errorf("executed actions = %v, want [click]", got)
	}
	// One screenshot to seed the loop, one after the executed action.
	if surface.shots != 2 {
		t.Errorf("screenshots = %d, want 2", surface.shots)
	}
}

func TestPlannerFirstRequestShape(t *testing.T) {
	client := &fakeCUA{}
	p := NewPlanner(client, "computer-use-preview", 10, time.Second, nil)

	if err := p.Run(context.Background(), &fakeSurface{}, "goal"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	req := client.reqs[0]
	if req.Model != "computer-use-preview" {
		t.Errorf("model = %q", req.Model)
	}
	if req.Truncation != "auto" {
		t.Errorf("truncation = %q, want auto", req.Truncation)
	}
	if len(req.Tools) != 1 || req.Tools[0]["type"] != "computer_use_preview" {
		t.Errorf("tools = %v, want single computer_use_preview tool", req.Tools)
	}
}

func TestPlannerTurnCap(t *testing.T) {
	n := 0
	client := &fakeCUA{}
	// Always demand another click so the cap has to trip.
	for i := 0; i < 20; i++ {
		client.queue = append(client.queue, func(req *providers.ResponseRequest) (*providers.Response, error) {
			n++
			return clickResponse(fmt.Sprintf("resp_%d", n), fmt.Sprintf("call_%d", n)), nil
		})
	}
	p := NewPlanner(client, "computer-use-preview", 4, time.Second, nil)

	surface := &fakeSurface{}
	err := p.Run(context.Background(), surface, "goal")
	if err == nil || !strings.Contains(err.Error(), "turn cap") {
		t.Fatalf("err = %v, want turn cap error", err)
	}

	// A turn is one provider round trip, so cap 4 means exactly 4 model
	// calls, each with its action executed before the cap trips.
	if len(client.reqs) != 4 {
		t.Errorf("provider calls = %d, want 4", len(client.reqs))
	}
	if len(surface.actions) != 4 {
		t.Errorf("executed actions = %d, want 4", len(surface.actions))
	}
}

func TestPlannerStopSignal(t *testing.T) {
	sig := stop.New()
	sig.Set("user")
	p := NewPlanner(&fakeCUA{}, "computer-use-preview", 10, time.Second, sig)

	err := p.Run(context.Background(), &fakeSurface{}, "goal")
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestPlannerProviderError(t *testing.T) {
	client := &fakeCUA{queue: []func(*providers.ResponseRequest) (*providers.Response, error){
		func(req *providers.ResponseRequest) (*providers.Response, error) {
			return nil, &providers.HTTPError{Status: 401, Body: "bad key"}
		},
	}}
	p := NewPlanner(client, "computer-use-preview", 10, time.Second, nil)

	err := p.Run(context.Background(), &fakeSurface{}, "goal")
	if err == nil {
		t.Fatal("want error from provider failure")
	}
	var httpErr *providers.HTTPError
	if !errors.As(err, &httpErr) {
		t.Errorf("err = %v, want wrapped *providers.HTTPError", err)
	}
}

func TestPlannerExecErrorAborts(t *testing.T) {
	client := &fakeCUA{queue: []func(*providers.ResponseRequest) (*providers.Response, error){
		func(req *providers.ResponseRequest) (*providers.Response, error) {
			return clickResponse("resp_1", "call_1"), nil
		},
	}}
	surface := &fakeSurface{execErr: errors.New("page gone")}
	p := NewPlanner(client, "computer-use-preview", 10, time.Second, nil)

	err := p.Run(context.Background(), surface, "goal")
	if err == nil || !strings.Contains(err.Error(), "page gone") {
		t.Fatalf("err = %v, want exec failure", err)
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/matchpilot/matchpilot/internal/config"
	"github.com/matchpilot/matchpilot/internal/pipeline"
	"github.com/matchpilot/matchpilot/internal/store"
	"github.com/matchpilot/matchpilot/pkg/protocol"
)

// HandlerFunc processes one RPC request and is responsible for sending
// exactly one response on the client.
type HandlerFunc func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter dispatches request frames to registered method handlers.
// Every method except connect and health requires a completed handshake
// when a gateway token is configured.
type MethodRouter struct {
	server   *Server
	handlers map[string]HandlerFunc
}

// NewMethodRouter registers the core matchpilot methods.
func NewMethodRouter(s *Server) *MethodRouter {
	r := &MethodRouter{
		server:   s,
		handlers: make(map[string]HandlerFunc),
	}

	r.Register(protocol.MethodConnect, r.handleConnect)
	r.Register(protocol.MethodHealth, r.handleHealth)
	r.Register(protocol.MethodStatus, r.handleStatus)
	r.Register(protocol.MethodRunStart, r.handleRunStart)
	r.Register(protocol.MethodRunStop, r.handleRunStop)
	r.Register(protocol.MethodRunStatus, r.handleRunStatus)
	r.Register(protocol.MethodConfigGet, r.handleConfigGet)
	r.Register(protocol.MethodConfigPatch, r.handleConfigPatch)
	r.Register(protocol.MethodQuotaGet, r.handleQuotaGet)
	r.Register(protocol.MethodSeenCount, r.handleSeenCount)

	return r
}

// Register installs a handler for a method name, replacing any previous one.
func (r *MethodRouter) Register(method string, handler HandlerFunc) {
	r.handlers[method] = handler
}

// Dispatch routes a request frame to its handler.
func (r *MethodRouter) Dispatch(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	handler, ok := r.handlers[req.Method]
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeUnknownMethod, "unknown method: "+req.Method))
		return
	}

	if !client.Authed() && req.Method != protocol.MethodConnect && req.Method != protocol.MethodHealth {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeAuth, "connect with a valid token first"))
		return
	}

	handler(ctx, client, req)
}

func (r *MethodRouter) handleConnect(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Token  string `json:"token"`
		Client string `json:"client,omitempty"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	if r.server.authRequired() && params.Token != r.server.cfg.Gateway.Token {
		slog.Warn("connect rejected: bad token", "id", client.id, "client", params.Client)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeAuth, "invalid token"))
		return
	}

	client.setAuthed()
	client.SendResponse(protocol.NewResponse(req.ID, map[string]interface{}{
		"protocol": protocol.ProtocolVersion,
		"server":   "matchpilot",
	}))
}

func (r *MethodRouter) handleHealth(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewResponse(req.ID, map[string]interface{}{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
	}))
}

func (r *MethodRouter) handleStatus(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	status := r.server.manager.Status()
	status["clients"] = r.server.clientCount()
	client.SendResponse(protocol.NewResponse(req.ID, status))
}

func (r *MethodRouter) handleRunStart(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Shadow       *bool `json:"shadow,omitempty"`
		AutoSend     *bool `json:"auto_send,omitempty"`
		ProfileLimit *int  `json:"profile_limit,omitempty"`
	}
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeBadParams, "invalid params: "+err.Error()))
			return
		}
	}

	runID, err := r.server.manager.Start(context.Background(), pipeline.StartOverrides{
		Shadow:       params.Shadow,
		AutoSend:     params.AutoSend,
		ProfileLimit: params.ProfileLimit,
	})
	if err != nil {
		var cerr *config.ConfigError
		switch {
		case errors.Is(err, pipeline.ErrRunActive):
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeRunActive, "a run is already active"))
		case errors.As(err, &cerr):
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeBadParams, cerr.Error()))
		default:
			slog.Error("run.start failed", "error", err)
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeInternal, "failed to start run"))
		}
		return
	}

	client.SendResponse(protocol.NewResponse(req.ID, map[string]interface{}{
		"run_id": runID,
	}))
}

func (r *MethodRouter) handleRunStop(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Reason string `json:"reason,omitempty"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.Reason == "" {
		params.Reason = "gateway"
	}

	if err := r.server.manager.Stop(params.Reason); err != nil {
		if errors.Is(err, pipeline.ErrNoRun) {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeNoRun, "no active run"))
			return
		}
		slog.Error("run.stop failed", "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeInternal, "failed to stop run"))
		return
	}

	client.SendResponse(protocol.NewResponse(req.ID, map[string]interface{}{
		"status": "stopping",
	}))
}

func (r *MethodRouter) handleRunStatus(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewResponse(req.ID, r.server.manager.Status()))
}

func (r *MethodRouter) handleConfigGet(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	// Secrets are env-only and tagged json:"-", but mask defensively anyway.
	client.SendResponse(protocol.NewResponse(req.ID, r.server.cfg.MaskedCopy()))
}

// configPatch is the set of fields mutable over the gateway. Everything
// else (provider, browser, stores) requires editing the config file.
type configPatch struct {
	SelfProfile     *string `json:"self_profile,omitempty"`
	Criteria        *string `json:"criteria,omitempty"`
	Template        *string `json:"template,omitempty"`
	AutoSend        *bool   `json:"auto_send,omitempty"`
	Shadow          *bool   `json:"shadow,omitempty"`
	ProfileLimit    *int    `json:"profile_limit,omitempty"`
	PaceSeconds     *int    `json:"pace_seconds,omitempty"`
	DailyQuota      *int    `json:"daily_quota,omitempty"`
	WeeklyQuota     *int    `json:"weekly_quota,omitempty"`
	MaxMessageChars *int    `json:"max_message_chars,omitempty"`
	Schedule        *string `json:"schedule,omitempty"`
	ListingURL      *string `json:"listing_url,omitempty"`
}

func (p *configPatch) apply(cfg *config.Config) {
	run := &cfg.Run
	if p.SelfProfile != nil {
		run.SelfProfile = *p.SelfProfile
	}
	if p.Criteria != nil {
		run.Criteria = *p.Criteria
	}
	if p.Template != nil {
		run.Template = *p.Template
	}
	if p.AutoSend != nil {
		run.AutoSend = *p.AutoSend
	}
	if p.Shadow != nil {
		run.Shadow = *p.Shadow
	}
	if p.ProfileLimit != nil {
		run.ProfileLimit = *p.ProfileLimit
	}
	if p.PaceSeconds != nil {
		run.PaceSeconds = *p.PaceSeconds
	}
	if p.DailyQuota != nil {
		run.DailyQuota = *p.DailyQuota
	}
	if p.WeeklyQuota != nil {
		run.WeeklyQuota = *p.WeeklyQuota
	}
	if p.MaxMessageChars != nil {
		run.MaxMessageChars = *p.MaxMessageChars
	}
	if p.Schedule != nil {
		run.Schedule = *p.Schedule
	}
	if p.ListingURL != nil {
		cfg.Browser.ListingURL = *p.ListingURL
	}
}

func (r *MethodRouter) handleConfigPatch(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	if r.server.manager.Active() {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeRunActive, "cannot patch config while a run is active"))
		return
	}

	var patch configPatch
	if req.Params == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeBadParams, "missing params"))
		return
	}
	if err := json.Unmarshal(req.Params, &patch); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeBadParams, "invalid params: "+err.Error()))
		return
	}

	cfg := r.server.cfg
	prevRun := cfg.Run
	prevListing := cfg.Browser.ListingURL

	patch.apply(cfg)
	if err := cfg.Validate(); err != nil {
		cfg.Run = prevRun
		cfg.Browser.ListingURL = prevListing
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeBadParams, err.Error()))
		return
	}

	if r.server.configPath != "" {
		if err := config.Save(r.server.configPath, cfg); err != nil {
			slog.Error("config.patch: save failed", "path", r.server.configPath, "error", err)
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeInternal, "patch applied but not persisted"))
			return
		}
	}

	client.SendResponse(protocol.NewResponse(req.ID, map[string]interface{}{
		"status": "patched",
		"config": cfg.MaskedCopy(),
	}))
}

func (r *MethodRouter) handleQuotaGet(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	now := r.server.clk.Now()
	counters, err := r.server.stores.Quota.Counts(ctx, store.DayKey(now), store.WeekKey(now))
	if err != nil {
		slog.Error("quota.get failed", "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeInternal, "failed to read quota"))
		return
	}

	client.SendResponse(protocol.NewResponse(req.ID, map[string]interface{}{
		"day":          counters.Day,
		"week":         counters.Week,
		"daily_limit":  r.server.cfg.Run.DailyQuota,
		"weekly_limit": r.server.cfg.Run.WeeklyQuota,
	}))
}

func (r *MethodRouter) handleSeenCount(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	n, err := r.server.stores.Seen.Count(ctx)
	if err != nil {
		slog.Error("seen.count failed", "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeInternal, "failed to count seen profiles"))
		return
	}

	client.SendResponse(protocol.NewResponse(req.ID, map[string]interface{}{
		"count": n,
	}))
}

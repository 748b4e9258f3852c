package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bluesky-social/agora/governance"
	"github.com/bluesky-social/agora/models"

	"github.com/araddon/dateparse"
	"github.com/labstack/echo/v4"
)

// POST /xrpc/social.agora.vote.cast
func (srv *Server) HandleCastVote(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	var ballot governance.Ballot
	if err := c.Bind(&ballot); err != nil {
		return err
	}
	vote, err := srv.c.mgr.CastVote(ctx, subject(c), ballot)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, voteView(vote))
}

// GET /xrpc/social.agora.vote.get
func (srv *Server) HandleGetVote(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	vote, err := srv.c.mgr.GetVote(ctx, subject(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, voteView(vote))
}

type StartVotingInput struct {
	DurationSeconds int64 `json:"durationSeconds"`
}

// POST /admin/epoch/startVoting
func (srv *Server) HandleStartVoting(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	var in StartVotingInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	epoch, err := srv.c.mgr.StartVoting(ctx, actor(c), time.Duration(in.DurationSeconds)*time.Second)
	if err != nil {
		return err
	}
	return srv.renderEpoch(ctx, c, epoch)
}

type EndVotingInput struct {
	Force bool `json:"force"`
}

// POST /admin/epoch/endVoting
func (srv *Server) HandleEndVoting(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	var in EndVotingInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	epoch, err := srv.c.mgr.EndVoting(ctx, actor(c), in.Force)
	if err != nil {
		return err
	}
	return srv.renderEpoch(ctx, c, epoch)
}

// POST /admin/epoch/approve
func (srv *Server) HandleApprove(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	epoch, err := srv.c.mgr.ApproveResults(ctx, actor(c))
	if err != nil {
		return err
	}
	return srv.renderEpoch(ctx, c, epoch)
}

// POST /admin/epoch/reject
func (srv *Server) HandleReject(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	epoch, err := srv.c.mgr.RejectResults(ctx, actor(c))
	if err != nil {
		return err
	}
	return srv.renderEpoch(ctx, c, epoch)
}

// POST /admin/epoch/force
func (srv *Server) HandleForce(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	epoch, err := srv.c.mgr.ForceTransition(ctx, actor(c))
	if err != nil {
		return err
	}
	return srv.renderEpoch(ctx, c, epoch)
}

type ScheduleInput struct {
	// any format dateparse understands; RFC 3339 is safest
	StartAt         string `json:"startAt"`
	DurationSeconds int64  `json:"durationSeconds"`
}

func parseStartTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, badRequest("startAt is required")
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return time.Time{}, badRequest("could not parse startAt: %s", raw)
	}
	return t.UTC(), nil
}

// POST /admin/epoch/schedule
func (srv *Server) HandleSchedule(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	var in ScheduleInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	start, err := parseStartTime(in.StartAt)
	if err != nil {
		return err
	}
	epoch, err := srv.c.mgr.ScheduleVote(ctx, actor(c), start, time.Duration(in.DurationSeconds)*time.Second)
	if err != nil {
		return err
	}
	return srv.renderEpoch(ctx, c, epoch)
}

// POST /admin/epoch/cancelSchedule
func (srv *Server) HandleCancelSchedule(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	epoch, err := srv.c.mgr.CancelScheduledVote(ctx, actor(c))
	if err != nil {
		return err
	}
	return srv.renderEpoch(ctx, c, epoch)
}

type WeightsInput struct {
	Weights *models.Weights `json:"weights"`
}

// POST /admin/weights
func (srv *Server) HandleOverrideWeights(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	var in WeightsInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	if in.Weights == nil {
		return badRequest("weights are required")
	}
	epoch, err := srv.c.mgr.OverrideWeights(ctx, actor(c), *in.Weights)
	if err != nil {
		return err
	}
	return srv.renderEpoch(ctx, c, epoch)
}

type RuleInput struct {
	List    string `json:"list"`
	Keyword string `json:"keyword"`
}

func (srv *Server) handleRule(c echo.Context, add bool) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	var in RuleInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	list, err := governance.ParseRuleList(in.List)
	if err != nil {
		return err
	}
	var epoch *models.GovernanceEpoch
	if add {
		epoch, err = srv.c.mgr.AddContentRule(ctx, actor(c), list, in.Keyword)
	} else {
		epoch, err = srv.c.mgr.RemoveContentRule(ctx, actor(c), list, in.Keyword)
	}
	if err != nil {
		return err
	}
	return srv.renderEpoch(ctx, c, epoch)
}

// POST /admin/rules/add
func (srv *Server) HandleAddRule(c echo.Context) error {
	return srv.handleRule(c, true)
}

// POST /admin/rules/remove
func (srv *Server) HandleRemoveRule(c echo.Context) error {
	return srv.handleRule(c, false)
}

type PinInput struct {
	URI string `json:"uri"`
}

type PinOutput struct {
	URI string `json:"uri,omitempty"`
}

// POST /admin/pin
func (srv *Server) HandleSetPin(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	var in PinInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	if err := srv.feed.Pin(ctx, in.URI); err != nil {
		return err
	}
	if err := srv.c.mgr.RecordAction(ctx, actor(c), governance.ActionPinSet, models.JSONMap{"uri": in.URI}); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PinOutput{URI: in.URI})
}

// DELETE /admin/pin
func (srv *Server) HandleClearPin(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	prev, err := srv.feed.Pinned(ctx)
	if err != nil {
		return err
	}
	if err := srv.feed.Unpin(ctx); err != nil {
		return err
	}
	if err := srv.c.mgr.RecordAction(ctx, actor(c), governance.ActionPinCleared, models.JSONMap{"uri": prev}); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PinOutput{})
}

// GET /admin/audit
func (srv *Server) HandleAdminAuditLog(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	id, err := strconv.ParseUint(c.QueryParam("epoch"), 10, 64)
	if err != nil || id == 0 {
		return badRequest("query parameter missing or invalid: epoch")
	}
	entries, err := srv.c.mgr.AuditLogForEpoch(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AuditLogOutput{Entries: auditViews(entries)})
}

// POST /admin/score
func (srv *Server) HandleRunScoring(c echo.Context) error {
	summary, err := srv.c.pipeline.Run(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

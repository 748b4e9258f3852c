package main

import (
	"context"
	"net/http"
	"strconv"

	"github.com/bluesky-social/agora/feed"
	"github.com/bluesky-social/agora/models"
	"github.com/bluesky-social/agora/scoring"

	"github.com/labstack/echo/v4"
)

func queryUint(c echo.Context, name string) (uint64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest("%s must be a non-negative integer", name)
	}
	return n, nil
}

func queryInt(c echo.Context, name string) (int, bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, badRequest("%s must be an integer", name)
	}
	return n, true, nil
}

// GET /xrpc/app.bsky.feed.getFeedSkeleton
func (srv *Server) HandleGetFeedSkeleton(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()

	limit, ok, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	if ok && limit < 1 {
		return feed.ErrInvalidLimit
	}
	out, err := srv.feed.GetFeedSkeleton(ctx, c.QueryParam("feed"), c.QueryParam("cursor"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

type FeedDescription struct {
	URI string `json:"uri"`
}

type DescribeFeedGeneratorOutput struct {
	DID   string            `json:"did"`
	Feeds []FeedDescription `json:"feeds"`
}

// GET /xrpc/app.bsky.feed.describeFeedGenerator
func (srv *Server) HandleDescribeFeedGenerator(c echo.Context) error {
	out := DescribeFeedGeneratorOutput{DID: srv.config.ServiceDID, Feeds: []FeedDescription{}}
	if uri := srv.feed.FeedURI(); uri != "" {
		out.Feeds = append(out.Feeds, FeedDescription{URI: uri})
	}
	return c.JSON(http.StatusOK, out)
}

type DIDService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

type DIDDocument struct {
	Context []string     `json:"@context"`
	ID      string       `json:"id"`
	Service []DIDService `json:"service"`
}

// GET /.well-known/did.json
func (srv *Server) HandleWellKnownDID(c echo.Context) error {
	if srv.config.ServiceDID == "" || srv.config.Hostname == "" {
		return &XRPCError{Status: http.StatusNotFound, Code: "NotFound", Message: "service DID is not configured"}
	}
	return c.JSON(http.StatusOK, DIDDocument{
		Context: []string{"https://www.w3.org/ns/did/v1"},
		ID:      srv.config.ServiceDID,
		Service: []DIDService{{
			ID:              "#bsky_fg",
			Type:            "BskyFeedGenerator",
			ServiceEndpoint: "https://" + srv.config.Hostname,
		}},
	})
}

func (srv *Server) loadEpoch(ctx context.Context, id uint64) (*models.GovernanceEpoch, error) {
	if id == 0 {
		return srv.c.mgr.CurrentEpoch(ctx)
	}
	return srv.c.mgr.GetEpoch(ctx, id)
}

func (srv *Server) renderEpoch(ctx context.Context, c echo.Context, epoch *models.GovernanceEpoch) error {
	count, err := srv.c.mgr.CountVotes(ctx, epoch.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, epochView(epoch, count))
}

// GET /xrpc/social.agora.transparency.getEpoch
func (srv *Server) HandleGetEpoch(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	id, err := queryUint(c, "epoch")
	if err != nil {
		return err
	}
	epoch, err := srv.loadEpoch(ctx, id)
	if err != nil {
		return err
	}
	return srv.renderEpoch(ctx, c, epoch)
}

// GET /xrpc/social.agora.transparency.explainPost
func (srv *Server) HandleExplainPost(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	uri := c.QueryParam("uri")
	if uri == "" {
		return badRequest("query parameter missing or empty: uri")
	}
	id, err := queryUint(c, "epoch")
	if err != nil {
		return err
	}
	out, err := srv.c.transparency.Explain(ctx, uri, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// GET /xrpc/social.agora.transparency.getStats
func (srv *Server) HandleGetStats(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	id, err := queryUint(c, "epoch")
	if err != nil {
		return err
	}
	out, err := srv.c.transparency.Stats(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// GET /xrpc/social.agora.transparency.whatIf
func (srv *Server) HandleWhatIf(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()

	var a [models.NumComponents]float64
	for i, name := range []string{"recency", "engagement", "bridging", "sourceDiversity", "relevance"} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return badRequest("%s must be a number", name)
		}
		a[i] = f
	}
	limit, _, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	if limit < 0 || limit > scoring.MaxWhatIfLimit {
		return badRequest("limit must be between 1 and %d", scoring.MaxWhatIfLimit)
	}
	out, err := srv.c.transparency.WhatIf(ctx, models.WeightsFromArray(a), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

type AuditLogOutput struct {
	Entries []AuditEntryView `json:"entries"`
}

// GET /xrpc/social.agora.transparency.getAuditLog
func (srv *Server) HandleGetAuditLog(c echo.Context) error {
	ctx, cancel := srv.requestContext(c)
	defer cancel()
	limit, _, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	before, err := queryUint(c, "before")
	if err != nil {
		return err
	}
	entries, err := srv.c.mgr.AuditLog(ctx, limit, before)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AuditLogOutput{Entries: auditViews(entries)})
}

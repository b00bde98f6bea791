package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"chatda://about",
			"ChatDA About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info and the host site the overlay targets."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			"chatda://overlay/state",
			"Overlay State",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Current page, panels, bubble phase and session contents."),
		),
		s.handleStateResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"chatda://facts/{predicate}{?limit}",
			"Overlay Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Most recent facts recorded for one predicate."),
		),
		s.handleFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(request.Params.URI, map[string]interface{}{
		"name":          s.cfg.Server.Name,
		"version":       s.cfg.Server.Version,
		"listing_url":   s.cfg.Site.ListingURL,
		"detail_prefix": s.cfg.Site.DetailPrefix,
		"notes": []string{
			"Resources are read-only; use tools for panel, compare and chat actions.",
			"Facts are only recorded while the fact log is enabled.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	})
}

func (s *Server) handleStateResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(request.Params.URI, s.overlay.Snapshot())
}

func (s *Server) handleFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("fact engine unavailable")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	if predicate == "" {
		return nil, fmt.Errorf("missing predicate")
	}
	limit := clampLimit(asInt(request.Params.Arguments["limit"]))
	facts := recentFacts(s.engine, predicate, limit)
	return jsonResource(request.Params.URI, map[string]interface{}{
		"predicate": predicate,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	})
}

func jsonResource(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/Lechros/chatda/internal/browser"
	"github.com/Lechros/chatda/internal/config"
	"github.com/Lechros/chatda/internal/mangle"
	"github.com/Lechros/chatda/internal/overlay"
)

// Server exposes the overlay controller, its fact log and the overlay tab as MCP tools.
type Server struct {
	cfg       config.Config
	overlay   *overlay.Controller
	sessions  *browser.SessionManager
	engine    *mangle.Engine
	logger    *zap.Logger
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer

	mu   sync.RWMutex
	base context.Context
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Deps are the components the tools act on. Sessions and Engine may be nil;
// the tools that need them then report an error.
type Deps struct {
	Overlay  *overlay.Controller
	Sessions *browser.SessionManager
	Engine   *mangle.Engine
	Logger   *zap.Logger
}

func NewServer(cfg config.Config, d Deps) (*Server, error) {
	if d.Overlay == nil {
		return nil, fmt.Errorf("overlay controller is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		overlay:   d.Overlay,
		sessions:  d.Sessions,
		engine:    d.Engine,
		logger:    d.Logger,
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
		base:      context.Background(),
	}

	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// baseContext outlives single tool calls; browser connections are bound to it.
func (s *Server) baseContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

func (s *Server) setBase(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = ctx
}

// Start serves MCP over stdio until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	s.setBase(ctx)
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	s.setBase(ctx)
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("mcp sse listening", zap.Int("port", port))

	select {
	case <-ctx.Done():
		s.logger.Info("sse server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly (used by tests).
func (s *Server) ExecuteTool(name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(context.Background(), args)
}

func (s *Server) registerAllTools() {
	// Overlay state and panels
	s.registerTool(&OverlayStateTool{overlay: s.overlay})
	s.registerTool(&OpenPanelTool{overlay: s.overlay})
	s.registerTool(&ClosePanelTool{overlay: s.overlay})

	// Listing and conversation
	s.registerTool(&CompareProductTool{overlay: s.overlay})
	s.registerTool(&RescanListingTool{overlay: s.overlay})
	s.registerTool(&SendMessageTool{overlay: s.overlay})
	s.registerTool(&RestoreSessionTool{overlay: s.overlay})

	// Fact log
	s.registerTool(&QueryFactsTool{engine: s.engine})
	s.registerTool(&ReadFactsTool{engine: s.engine})

	// Overlay tab
	s.registerTool(&LaunchBrowserTool{sessions: s.sessions, overlay: s.overlay, base: s.baseContext, startURL: s.cfg.Browser.StartURL})
	s.registerTool(&NavigateURLTool{sessions: s.sessions})
	s.registerTool(&ShutdownBrowserTool{sessions: s.sessions})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

// wrapTool adapts a Tool to mcp-go. Tool errors become error results so the
// client sees them; only protocol failures are returned as errors.
func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		started := time.Now()
		result, err := tool.Execute(ctx, args)
		log := s.logger.With(zap.String("tool", tool.Name()), zap.Duration("took", time.Since(started)))
		if err != nil {
			log.Debug("tool failed", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", tool.Name(), err)), nil
		}
		log.Debug("tool done")
		return mcp.NewToolResultText(string(marshalToolPayload(tool.Name(), result))), nil
	}
}

// marshalToolPayload never fails; an unencodable result is reported in-band.
func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, err := json.Marshal(result)
	if err == nil {
		return payload
	}
	msg, _ := json.Marshal(fmt.Sprintf("%s returned non-serializable payload: %v", toolName, err))
	return []byte(`{"success":false,"error":` + string(msg) + `}`)
}

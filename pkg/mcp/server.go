package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/product-scout/pkg/config"
	"github.com/Sriram-PR/product-scout/pkg/fetch"
	"github.com/Sriram-PR/product-scout/pkg/orchestrate"
)

const (
	serverName    = "product-scout"
	serverVersion = "1.0.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
	// Options are applied to every orchestrator a discovery job builds
	Options []orchestrate.Option
}

// Server exposes product discovery as MCP tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
	escalation *fetch.EscalationState // shared by every job for the server's lifetime
	jobs       sync.WaitGroup
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: NewJobManager(),
		escalation: fetch.NewEscalationState(),
	}

	s.registerTools()

	return s, nil
}

func (s *Server) registerTools() {
	tools := []server.ServerTool{
		{
			Tool: mcp.NewTool("list_sites",
				mcp.WithDescription("List all configured storefronts available for product discovery"),
			),
			Handler: s.handleListSites,
		},
		{
			Tool: mcp.NewTool("discover_products",
				mcp.WithDescription("Start background product discovery for a configured site. Returns immediately with a job ID."),
				mcp.WithString("site_key",
					mcp.Required(),
					mcp.Description("Site key from config file"),
				),
			),
			Handler: s.handleDiscoverProducts,
		},
		{
			Tool: mcp.NewTool("get_job_status",
				mcp.WithDescription("Get the status and progress of a discovery job"),
				mcp.WithString("job_id",
					mcp.Required(),
					mcp.Description("The job ID returned by discover_products"),
				),
			),
			Handler: s.handleGetJobStatus,
		},
		{
			Tool: mcp.NewTool("cancel_job",
				mcp.WithDescription("Cancel a running discovery job. Links found so far are still written."),
				mcp.WithString("job_id",
					mcp.Required(),
					mcp.Description("The job ID returned by discover_products"),
				),
			),
			Handler: s.handleCancelJob,
		},
		{
			Tool: mcp.NewTool("check_product_link",
				mcp.WithDescription("Run the link filter on a URL: is it a product page, and would a sitemap at this URL be descended into"),
				mcp.WithString("url",
					mcp.Required(),
					mcp.Description("The URL to classify"),
				),
				mcp.WithString("domain",
					mcp.Description("Base domain the link must belong to (defaults to the URL's own host)"),
				),
				mcp.WithString("site_key",
					mcp.Description("Use this site's filter policy and domain"),
				),
			),
			Handler: s.handleCheckProductLink,
		},
	}
	s.mcpServer.AddTools(tools...)

	s.log.Infof("Registered %d MCP tools", len(tools))
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs and waits for them to write their outputs
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

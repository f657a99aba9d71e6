// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the drift checker as tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pvginkel/ModernAppTemplate/internal/analysis"
	"github.com/pvginkel/ModernAppTemplate/internal/models"
	"github.com/pvginkel/ModernAppTemplate/internal/ownership"
	"github.com/pvginkel/ModernAppTemplate/internal/report"
)

// OwnershipURI is the resource describing categories and detection methods.
const OwnershipURI = "driftcheck://ownership"

// Server wraps the MCP server with the drift checker tools.
type Server struct {
	mcp *server.MCPServer
	// base options apply to every tool call; per-call arguments follow them.
	base []analysis.Option
}

// New creates a new MCP server with all tools registered.
func New(version string, base ...analysis.Option) *Server {
	s := &Server{base: base}

	s.mcp = server.NewMCPServer(
		"driftcheck",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("find_template_violations",
		mcp.WithDescription("Report template-owned files an application has modified. "+
			"Findings combine the git history since the last template sync with a byte "+
			"comparison against the template. Read "+OwnershipURI+" for the categories."),
		mcp.WithString("app_root", mcp.Required(), mcp.Description("Absolute path of the generated application")),
		mcp.WithString("template", mcp.Description("Local template checkout; defaults to _src_path from the answers file")),
		mcp.WithBoolean("commits", mcp.Description("Include the commits that touched each file")),
		mcp.WithBoolean("diff", mcp.Description("Include a unified diff per finding")),
		mcp.WithString("format", mcp.Description("Output format"), mcp.Enum("text", "json")),
	), s.findViolations)

	s.mcp.AddTool(mcp.NewTool("classify_paths",
		mcp.WithDescription("Classify every path of the application and template by ownership."),
		mcp.WithString("app_root", mcp.Required(), mcp.Description("Absolute path of the generated application")),
		mcp.WithString("template", mcp.Description("Local template checkout; defaults to _src_path from the answers file")),
		mcp.WithString("category", mcp.Description("Comma-separated categories to keep (e.g. template-owned,app-scaffold)")),
	), s.classifyPaths)

	s.mcp.AddTool(mcp.NewTool("changes_since_sync",
		mcp.WithDescription("List the commits and the diff (excluding docs/) since the application last synced with the template."),
		mcp.WithString("app_root", mcp.Required(), mcp.Description("Absolute path of the generated application")),
	), s.changesSinceSync)

	s.mcp.AddResource(
		mcp.NewResource(OwnershipURI, "Ownership model",
			mcp.WithResourceDescription("Ownership categories, detection methods and exit codes."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readOwnershipResource,
	)

	return s
}

// ServeStdio serves the MCP protocol on in and out until ctx is done.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) options(req mcp.CallToolRequest, extra ...analysis.Option) []analysis.Option {
	opts := append([]analysis.Option{}, s.base...)
	if tmpl := req.GetString("template", ""); tmpl != "" {
		opts = append(opts, analysis.WithTemplate(tmpl))
	}
	return append(opts, extra...)
}

func (s *Server) findViolations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appRoot, err := req.RequireString("app_root")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	evidence := analysis.WithEvidence(req.GetBool("commits", false), req.GetBool("diff", false))
	res, err := analysis.Run(ctx, appRoot, s.options(req, evidence)...)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var buf bytes.Buffer
	format := req.GetString("format", "text")
	if err := report.Write(&buf, res.Report(), format, report.TextOptions{Color: report.ColorNever}); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
}

func (s *Server) classifyPaths(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appRoot, err := req.RequireString("app_root")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var cats []models.Category
	if raw := req.GetString("category", ""); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			var c models.Category
			if err := c.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			cats = append(cats, c)
		}
	}

	records, err := analysis.Classify(ctx, appRoot, s.options(req)...)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(cats) > 0 {
		records = ownership.Filter(records, cats...)
	}
	if records == nil {
		records = []models.Record{}
	}
	out, _ := json.MarshalIndent(records, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) changesSinceSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appRoot, err := req.RequireString("app_root")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cs, err := analysis.Changes(ctx, appRoot, s.base...)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var buf bytes.Buffer
	if err := cs.WriteText(&buf); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
}

func (s *Server) readOwnershipResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      OwnershipURI,
			MIMEType: "text/markdown",
			Text:     OwnershipGuide,
		},
	}, nil
}

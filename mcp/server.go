// Package mcp exposes the timegraph engine as a Model Context Protocol server.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Benny93/timegraph/internal/engine"
	"github.com/Benny93/timegraph/internal/graph"
)

// Graph is the part of the engine the server needs.
type Graph interface {
	AddNode(ctx context.Context, in engine.NewNode, at time.Time) (*graph.Node, error)
	UpdateNode(ctx context.Context, id graph.NanoID, patch engine.NodePatch, at time.Time) (*graph.Node, error)
	ExpireNode(ctx context.Context, id graph.NanoID, at time.Time) error
	AddEdge(ctx context.Context, in engine.NewEdge, at time.Time) (*graph.Edge, error)
	ExpireEdge(ctx context.Context, id graph.NanoID, at time.Time) error
	ExpireComponent(ctx context.Context, id graph.NanoID, at time.Time) error

	Node(ctx context.Context, id graph.NanoID) (*graph.Node, error)
	NodeAt(ctx context.Context, id graph.NanoID, t time.Time) (*graph.Node, error)
	Edge(ctx context.Context, id graph.NanoID) (*graph.Edge, error)
	EdgeAt(ctx context.Context, id graph.NanoID, t time.Time) (*graph.Edge, error)
	Component(ctx context.Context, id graph.NanoID) (*graph.Component, error)
	ComponentAt(ctx context.Context, id graph.NanoID, t time.Time) (*graph.Component, error)
	History(ctx context.Context, kind graph.Kind, id graph.NanoID) ([]graph.Versioned, error)

	ComponentMembers(ctx context.Context, loc graph.Locator) (engine.Members, error)
	ValidateComponent(ctx context.Context, loc graph.Locator) error

	PathExists(ctx context.Context, src, dst graph.NanoID) (bool, error)
	ShortestPath(ctx context.Context, src, dst graph.NanoID) (graph.Path, error)
	AllPaths(ctx context.Context, src, dst graph.NanoID) ([]graph.Path, error)

	Stats(ctx context.Context) (engine.Stats, error)
	Snapshot(ctx context.Context, t time.Time) (*graph.Multigraph, error)
}

// Server serves engine queries and mutations as MCP tools.
type Server struct {
	graph   Graph
	logger  *zap.Logger
	version string
	server  *mcp.Server
}

// Tool describes one MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource describes one MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

const (
	resourceStats  = "timegraph://stats"
	resourceSchema = "timegraph://schema"
)

// NewServer creates a server over g and registers every tool and resource.
func NewServer(g Graph, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		graph:   g,
		logger:  logger.Named("mcp"),
		version: version,
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "timegraph",
		Version: version,
	}, nil)

	s.registerTools()
	s.registerResources()
	return s
}

func object(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

var (
	idProp   = &jsonschema.Schema{Type: "string", Description: "NanoID of the element"}
	atProp   = &jsonschema.Schema{Type: "string", Description: "RFC 3339 instant; omit for now"}
	kindProp = &jsonschema.Schema{Type: "string", Enum: []any{"node", "edge", "component"}}
	typeProp = &jsonschema.Schema{Type: "string", Description: "Type name"}
	dataProp = &jsonschema.Schema{Description: "JSON payload, stored verbatim"}
	locProp  = &jsonschema.Schema{Type: "string", Description: "Component locator id@version"}
)

// ListTools returns all tools.
func (s *Server) ListTools() []Tool {
	return []Tool{
		{
			Name:        "timegraph_stats",
			Description: "Count active nodes, edges and components.",
			InputSchema: object(map[string]*jsonschema.Schema{}),
		},
		{
			Name:        "timegraph_get",
			Description: "Get the active version of an element, or the version alive at a given instant.",
			InputSchema: object(map[string]*jsonschema.Schema{"kind": kindProp, "id": idProp, "at": atProp}, "kind", "id"),
		},
		{
			Name:        "timegraph_history",
			Description: "List every version of an element, oldest first.",
			InputSchema: object(map[string]*jsonschema.Schema{"kind": kindProp, "id": idProp}, "kind", "id"),
		},
		{
			Name:        "timegraph_path",
			Description: "Find paths between two active nodes along directed edges.",
			InputSchema: object(map[string]*jsonschema.Schema{
				"source": idProp,
				"target": idProp,
				"mode":   {Type: "string", Enum: []any{"shortest", "all", "exists"}},
			}, "source", "target"),
		},
		{
			Name:        "timegraph_members",
			Description: "List the nodes and edges that reference a component version.",
			InputSchema: object(map[string]*jsonschema.Schema{"component": locProp}, "component"),
		},
		{
			Name:        "timegraph_check_component",
			Description: "Check that a component's members form a connected acyclic subgraph.",
			InputSchema: object(map[string]*jsonschema.Schema{"component": locProp}, "component"),
		},
		{
			Name:        "timegraph_snapshot",
			Description: "Summarize the graph as it stood at an instant.",
			InputSchema: object(map[string]*jsonschema.Schema{"at": atProp}, "at"),
		},
		{
			Name:        "timegraph_add_node",
			Description: "Create a node.",
			InputSchema: object(map[string]*jsonschema.Schema{"type": typeProp, "data": dataProp}, "type"),
		},
		{
			Name:        "timegraph_update_node",
			Description: "Create a new version of a node; incident edges follow it.",
			InputSchema: object(map[string]*jsonschema.Schema{"id": idProp, "type": typeProp, "data": dataProp}, "id"),
		},
		{
			Name:        "timegraph_add_edge",
			Description: "Create a directed edge between the active versions of two nodes.",
			InputSchema: object(map[string]*jsonschema.Schema{"type": typeProp, "source": idProp, "target": idProp, "data": dataProp}, "type", "source", "target"),
		},
		{
			Name:        "timegraph_expire",
			Description: "Expire the active version of an element. Expiring a node also expires its edges.",
			InputSchema: object(map[string]*jsonschema.Schema{"kind": kindProp, "id": idProp}, "kind", "id"),
		},
	}
}

// ListResources returns all resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         resourceStats,
			Name:        "Graph statistics",
			Description: "Counts of active elements",
			MimeType:    "text/plain",
		},
		{
			URI:         resourceSchema,
			Name:        "Data model",
			Description: "How versions, locators and components relate",
			MimeType:    "text/plain",
		},
	}
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	a := arguments(args)
	switch name {
	case "timegraph_stats":
		return s.handleStats(ctx)
	case "timegraph_get":
		return s.handleGet(ctx, a)
	case "timegraph_history":
		return s.handleHistory(ctx, a)
	case "timegraph_path":
		return s.handlePath(ctx, a)
	case "timegraph_members":
		return s.handleMembers(ctx, a)
	case "timegraph_check_component":
		return s.handleCheck(ctx, a)
	case "timegraph_snapshot":
		return s.handleSnapshot(ctx, a)
	case "timegraph_add_node":
		return s.handleAddNode(ctx, a)
	case "timegraph_update_node":
		return s.handleUpdateNode(ctx, a)
	case "timegraph_add_edge":
		return s.handleAddEdge(ctx, a)
	case "timegraph_expire":
		return s.handleExpire(ctx, a)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case resourceStats:
		return s.handleStats(ctx)
	case resourceSchema:
		return schema, nil
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Run serves MCP over the given streams until the client disconnects or ctx
// is cancelled.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if stdin == nil || stdout == nil {
		return fmt.Errorf("stdin and stdout must not be nil")
	}
	return s.Serve(ctx, &mcp.IOTransport{
		Reader: io.NopCloser(stdin),
		Writer: nopWriteCloser{stdout},
	})
}

// Serve serves MCP over an arbitrary transport.
func (s *Server) Serve(ctx context.Context, t mcp.Transport) error {
	s.logger.Info("mcp server started", zap.String("version", s.version))
	err := s.server.Run(ctx, t)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (s *Server) registerTools() {
	for _, tool := range s.ListTools() {
		name := tool.Name
		s.server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args map[string]any
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return toolError(fmt.Errorf("decoding arguments: %w", err)), nil
				}
			}
			text, err := s.CallTool(ctx, name, args)
			if err != nil {
				s.logger.Debug("tool failed", zap.String("tool", name), zap.Error(err))
				return toolError(err), nil
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
		})
	}
}

func (s *Server) registerResources() {
	for _, res := range s.ListResources() {
		uri, mime := res.URI, res.MimeType
		s.server.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, uri)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mime, Text: text}},
			}, nil
		})
	}
}

// toolError reports a failure inside the tool result so the model can see
// it, rather than as a protocol error.
func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

const schema = `timegraph data model

Elements are nodes, directed edges and components. Every change creates a new
immutable version; the previous one is expired at the same instant.

  locator     id@version, e.g. V1StGXR8_Z5jdHi6B-myT@3
  node        type, data, components (locators of the components it belongs to)
  edge        type, source and target node locators, data, components
  component   type, data; members are the nodes and edges referencing it

Updating a node recreates its active edges against the new version.
Expiring a node expires its edges. Paths only follow active versions.
`

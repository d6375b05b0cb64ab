package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/lattice-kg/lattice/internal/session"
	"github.com/lattice-kg/lattice/internal/storage"
)

// protocolVersion is the MCP protocol revision this server speaks.
const protocolVersion = "2024-11-05"

// ErrNoProjectSelected is returned by graph tools when the session has not
// selected a project yet.
var ErrNoProjectSelected = errors.New("no project selected: use create_project or select_project first")

// Notifier receives graph mutation events for fan-out to live observers.
type Notifier interface {
	Broadcast(event string, payload interface{})
}

// Server dispatches protocol messages and tool invocations against the
// graph store. One Server serves every session; per-session state lives in
// the session manager.
type Server struct {
	store    storage.Store
	sessions *session.Manager
	notifier Notifier

	serverName    string
	serverVersion string

	tools     []Tool
	toolIndex map[string]*Tool
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithNotifier injects a Notifier that receives graph mutation events.
// When not provided, mutation events are dropped.
func WithNotifier(n Notifier) ServerOption {
	return func(s *Server) {
		s.notifier = n
	}
}

// WithServerInfo overrides the name and version reported in the initialize
// handshake.
func WithServerInfo(name, version string) ServerOption {
	return func(s *Server) {
		s.serverName = name
		s.serverVersion = version
	}
}

// NewServer creates a new MCP server instance over the given store.
func NewServer(store storage.Store, opts ...ServerOption) *Server {
	s := &Server{
		store:         store,
		sessions:      session.NewManager(),
		serverName:    "lattice",
		serverVersion: "1.0.0",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.tools = s.buildTools()
	s.toolIndex = make(map[string]*Tool, len(s.tools))
	for i := range s.tools {
		s.toolIndex[s.tools[i].Name] = &s.tools[i]
	}
	return s
}

// Sessions returns the server's session table.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Tools returns the tool catalogue in registration order.
func (s *Server) Tools() []MCPTool {
	out := make([]MCPTool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, MCPTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

// ServeSession drains the session's inbound queue until the session closes
// or the context is cancelled. Messages are processed strictly in arrival
// order; run exactly one ServeSession per session.
func (s *Server) ServeSession(ctx context.Context, sess *session.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case raw := <-sess.Inbound():
			s.HandleSessionMessage(ctx, sess, raw)
		}
	}
}

// HandleSessionMessage processes one inbound message for a stream session.
// Replies are pushed on the session's event stream, never returned.
func (s *Server) HandleSessionMessage(ctx context.Context, sess *session.Session, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.pushMessage(sess, errorResponse(nil, ErrCodeParseError, "Parse error"))
		return
	}

	switch {
	case msg.Type == "request":
		result := s.invokeTool(ctx, sess, msg.Tool, msg.Args)
		s.pushResponse(sess, msg.ID, result)

	case msg.Method != "":
		resp := s.dispatchMethod(ctx, sess, msg.Method, msg.Params, msg.ID)
		if resp != nil {
			s.pushMessage(sess, resp)
		}

	default:
		s.pushMessage(sess, errorResponse(msg.ID, ErrCodeInvalidRequest, "message is neither a method call nor a tool request"))
	}
}

// dispatchMethod routes a protocol method. A nil return means the method is
// a notification and gets no reply.
func (s *Server) dispatchMethod(ctx context.Context, sess *session.Session, method string, params json.RawMessage, id interface{}) *JSONRPCResponse {
	switch method {
	case "initialize":
		if err := sess.CompleteHandshake(); err != nil {
			return errorResponse(id, ErrCodeInvalidRequest, err.Error())
		}
		var p MCPInitializeParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return errorResponse(id, ErrCodeInvalidParams, "invalid initialize params")
			}
		}
		if p.ClientInfo.Name != "" {
			log.Printf("mcp: session %s initialized by %s %s", sess.ID, p.ClientInfo.Name, p.ClientInfo.Version)
		}
		return successResponse(id, MCPInitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    MCPServerCapabilities{Tools: &MCPToolsCapability{}},
			ServerInfo:      MCPServerInfo{Name: s.serverName, Version: s.serverVersion},
		})

	case "initialized", "notifications/initialized":
		// Notification, no reply.
		return nil

	case "tools/list":
		return successResponse(id, MCPToolsListResult{Tools: s.Tools()})

	case "tools/call":
		var p MCPToolCallParams
		if err := json.Unmarshal(params, &p); err != nil {
			return errorResponse(id, ErrCodeInvalidParams, "invalid tools/call params")
		}
		// JSON-RPC clients negotiate the handshake before calling tools;
		// the type:"request" envelope carries no such requirement.
		if !sess.Ready() {
			return successResponse(id, toolError(fmt.Sprintf("session not initialized (state %s): send initialize first", sess.State())))
		}
		return successResponse(id, s.invokeTool(ctx, sess, p.Name, p.Arguments))

	default:
		return errorResponse(id, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}
}

// HandleRequest processes a JSON-RPC 2.0 request and returns the serialised
// response. This is the entry point for the stdio transport. A nil, nil
// return means the request was a notification.
func (s *Server) HandleRequest(ctx context.Context, sess *session.Session, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return marshalResponse(errorResponse(nil, ErrCodeParseError, "Parse error"))
	}
	if req.JSONRPC != "2.0" {
		return marshalResponse(errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version"))
	}

	var params json.RawMessage
	if req.Params != nil {
		raw, err := json.Marshal(req.Params)
		if err != nil {
			return marshalResponse(errorResponse(req.ID, ErrCodeInvalidParams, "invalid params"))
		}
		params = raw
	}

	resp := s.dispatchMethod(ctx, sess, req.Method, params, req.ID)
	if resp == nil {
		return nil, nil
	}
	return marshalResponse(resp)
}

// invokeTool runs one tool. Handler errors never escape as protocol
// failures; they come back as a result with IsError set.
func (s *Server) invokeTool(ctx context.Context, sess *session.Session, name string, args json.RawMessage) *MCPToolCallResult {
	tool, ok := s.toolIndex[name]
	if !ok {
		return toolError(fmt.Sprintf("unknown tool: %s", name))
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	result, err := tool.Handler(ctx, &ToolContext{Session: sess}, args)
	if err != nil {
		return toolError(err.Error())
	}

	text, err := json.Marshal(result)
	if err != nil {
		return toolError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}
}

// requireProject resolves the session's active project, verifying it still
// exists so a stale selection surfaces as an error rather than writes into
// a deleted namespace.
func (s *Server) requireProject(ctx context.Context, sess *session.Session) (string, error) {
	projectID := sess.ProjectID()
	if projectID == "" {
		return "", ErrNoProjectSelected
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("selected project no longer exists: select another project")
		}
		return "", err
	}
	return projectID, nil
}

// notify publishes a graph mutation event when a notifier is wired.
func (s *Server) notify(event string, payload interface{}) {
	if s.notifier != nil {
		s.notifier.Broadcast(event, payload)
	}
}

func (s *Server) pushResponse(sess *session.Session, id interface{}, result *MCPToolCallResult) {
	ev := ResponseEvent{
		Type:    "response",
		ID:      id,
		IsError: result.IsError,
		Content: result.Content,
	}
	if err := sess.Send("response", ev); err != nil {
		log.Printf("mcp: session %s: failed to push response: %v", sess.ID, err)
	}
}

func (s *Server) pushMessage(sess *session.Session, resp *JSONRPCResponse) {
	if err := sess.Send("message", resp); err != nil {
		log.Printf("mcp: session %s: failed to push message: %v", sess.ID, err)
	}
}

func toolError(message string) *MCPToolCallResult {
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: message}},
		IsError: true,
	}
}

func successResponse(id, result interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id}
}

func errorResponse(id interface{}, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message},
		ID:      id,
	}
}

func marshalResponse(resp *JSONRPCResponse) ([]byte, error) {
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return out, nil
}

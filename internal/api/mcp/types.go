// Package mcp implements the Model Context Protocol (MCP) server for
// Lattice. It exposes JSON-RPC 2.0 based tools for building and querying
// project-scoped knowledge graphs, over an SSE stream or stdio.
package mcp

import (
	"encoding/json"

	"github.com/lattice-kg/lattice/internal/storage"
	"github.com/lattice-kg/lattice/pkg/types"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via tools/list.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}

// ---------------------------------------------------------------------------
// Stream envelope types
// ---------------------------------------------------------------------------

// ClientMessage is the union of the two message shapes a client may POST:
// a protocol message carrying Method, or a tool invocation carrying
// Type == "request" with Tool and Args.
type ClientMessage struct {
	// Protocol message fields.
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`

	// Tool invocation fields.
	Type string          `json:"type,omitempty"` // "request" for tool calls
	Tool string          `json:"tool,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`

	// ID correlates the response pushed on the stream. Shared by both
	// shapes; clients typically send a UUID string.
	ID interface{} `json:"id,omitempty"`
}

// ConnectedEvent is pushed when an event stream opens.
type ConnectedEvent struct {
	Type      string `json:"type"` // "connected"
	SessionID string `json:"sessionId"`
}

// ResponseEvent carries a tool result back on the stream.
type ResponseEvent struct {
	Type    string               `json:"type"` // "response"
	ID      interface{}          `json:"id"`
	IsError bool                 `json:"isError"`
	Content []MCPToolCallContent `json:"content"`
}

// ---------------------------------------------------------------------------
// Tool argument and result types
// ---------------------------------------------------------------------------

// CreateProjectArgs contains arguments for the create_project tool.
type CreateProjectArgs struct {
	Name        string `json:"name"`                  // Project name (required, unique)
	Description string `json:"description,omitempty"` // Project description
}

// SelectProjectArgs contains arguments for the select_project tool.
// Exactly one of ProjectID or Name must be provided.
type SelectProjectArgs struct {
	ProjectID string `json:"project_id,omitempty"` // Project ID to select
	Name      string `json:"name,omitempty"`       // Project name to select
}

// SelectProjectResult confirms the session's active project.
type SelectProjectResult struct {
	Project  *types.Project `json:"project"`
	Selected bool           `json:"selected"`
}

// ListProjectsResult contains the result of listing projects.
type ListProjectsResult struct {
	Projects []*types.ProjectSummary `json:"projects"`
	Total    int                     `json:"total"`
}

// DeleteProjectArgs contains arguments for the delete_project tool.
// Exactly one of ProjectID or Name must be provided.
type DeleteProjectArgs struct {
	ProjectID string `json:"project_id,omitempty"` // Project ID to delete
	Name      string `json:"name,omitempty"`       // Project name to delete
}

// DeleteResult reports whether a delete removed anything. Deleting an
// already-deleted resource reports false without an error.
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}

// CreateEntityArgs contains arguments for the create_entity tool.
type CreateEntityArgs struct {
	Name         string   `json:"name"`                   // Entity name (required)
	Type         string   `json:"type"`                   // Entity type (required)
	Description  string   `json:"description"`            // Entity description (required)
	ParentID     string   `json:"parent_id,omitempty"`    // Optional parent entity reference
	Observations []string `json:"observations,omitempty"` // Initial observations
}

// GetEntityArgs contains arguments for the get_entity tool.
type GetEntityArgs struct {
	EntityID string `json:"entity_id"` // Entity ID (required)
}

// ListEntitiesArgs contains arguments for the list_entities tool.
type ListEntitiesArgs struct {
	Type  string `json:"type,omitempty"`  // Filter by exact entity type
	Name  string `json:"name,omitempty"`  // Case-insensitive substring match on name
	Limit int    `json:"limit,omitempty"` // Max results (default 20)
}

// ListEntitiesResult contains the result of listing entities.
type ListEntitiesResult struct {
	Entities []*types.Entity `json:"entities"`
	Total    int             `json:"total"`
}

// UpdateEntityDescriptionArgs contains arguments for the
// update_entity_description tool.
type UpdateEntityDescriptionArgs struct {
	EntityID    string `json:"entity_id"`   // Entity ID (required)
	Description string `json:"description"` // New description (required)
}

// AddObservationArgs contains arguments for the add_observation tool.
type AddObservationArgs struct {
	EntityID string `json:"entity_id"` // Entity ID (required)
	Text     string `json:"text"`      // Observation text (required)
}

// DeleteObservationArgs contains arguments for the delete_observation tool.
type DeleteObservationArgs struct {
	EntityID      string `json:"entity_id"`      // Entity ID (required)
	ObservationID string `json:"observation_id"` // Observation ID (required)
}

// DeleteEntityArgs contains arguments for the delete_entity tool.
type DeleteEntityArgs struct {
	EntityID string `json:"entity_id"` // Entity ID (required)
}

// CreateRelationshipArgs contains arguments for the create_relationship tool.
type CreateRelationshipArgs struct {
	From        string `json:"from"`                  // Source entity ID (required)
	To          string `json:"to"`                    // Target entity ID (required)
	Type        string `json:"type"`                  // Relationship type (required)
	Description string `json:"description,omitempty"` // Optional description
}

// DeleteRelationshipArgs contains arguments for the delete_relationship tool.
type DeleteRelationshipArgs struct {
	RelationshipID string `json:"relationship_id"` // Relationship ID (required)
}

// GetRelationshipsArgs contains arguments for the get_relationships tool.
// The predicates are independent and may be combined.
type GetRelationshipsArgs struct {
	FromID   string `json:"from_id,omitempty"`   // Restrict to edges with this source entity
	ToID     string `json:"to_id,omitempty"`     // Restrict to edges with this target entity
	EntityID string `json:"entity_id,omitempty"` // Restrict to edges touching this entity
	Type     string `json:"type,omitempty"`      // Filter by exact relationship type
}

// GetRelationshipsResult contains the result of listing relationships.
type GetRelationshipsResult struct {
	Relationships []*types.Relationship `json:"relationships"`
	Total         int                   `json:"total"`
}

// GetRelatedEntitiesArgs contains arguments for the get_related_entities tool.
type GetRelatedEntitiesArgs struct {
	EntityID  string `json:"entity_id"`           // Starting entity ID (required)
	Direction string `json:"direction,omitempty"` // incoming, outgoing, or both (default both)
}

// GetRelatedEntitiesResult contains the de-duplicated 1-hop neighborhood.
type GetRelatedEntitiesResult struct {
	Related []*storage.RelatedEntity `json:"related"`
	Total   int                      `json:"total"`
}

// SearchEntitiesArgs contains arguments for the search_entities tool.
type SearchEntitiesArgs struct {
	Query string `json:"query"`           // Search query (required)
	Limit int    `json:"limit,omitempty"` // Max results (default 10)
}

// SearchEntitiesResult contains ranked search results.
type SearchEntitiesResult struct {
	Query    string                `json:"query"`
	Entities []*types.ScoredEntity `json:"entities"`
	Count    int                   `json:"count"`
}

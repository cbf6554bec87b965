package pool

import (
	"regexp"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpambassador/server/internal/mcpclient"
	pkgstrings "github.com/mcpambassador/server/pkg/strings"
)

// toolNameRe is the only shape of tool name admitted into a catalog.
var toolNameRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,128}$`)

// ToolRejection records a tool dropped during catalog aggregation, either
// for an invalid name or a name conflict.
type ToolRejection struct {
	Server string
	Tool   string
	Reason string
}

// InstanceSet is one user's collection of live tool-server connections plus
// the aggregated, de-duplicated tool catalog over them.
type InstanceSet struct {
	UserID string

	mu sync.RWMutex
	// conns maps catalog name -> live connection.
	conns map[string]mcpclient.Connection
	// timeouts maps catalog name -> per-invocation deadline.
	timeouts map[string]time.Duration
	// toolOwner maps tool name -> catalog name.
	toolOwner map[string]string
	tools     []mcp.Tool
	rejected  []ToolRejection
	ready     bool
	createdAt time.Time
}

func newInstanceSet(userID string) *InstanceSet {
	return &InstanceSet{
		UserID:    userID,
		conns:     make(map[string]mcpclient.Connection),
		timeouts:  make(map[string]time.Duration),
		toolOwner: make(map[string]string),
		createdAt: time.Now(),
	}
}

// addConnection registers a started connection and merges its tools into
// the aggregated catalog. Invalid names are filtered, descriptions
// truncated, and name conflicts resolved first-write-wins with the
// rejection recorded.
func (s *InstanceSet) addConnection(serverName string, conn mcpclient.Connection, timeout time.Duration, tools []mcp.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conns[serverName] = conn
	s.timeouts[serverName] = timeout

	for _, tool := range tools {
		if !toolNameRe.MatchString(tool.Name) {
			s.rejected = append(s.rejected, ToolRejection{
				Server: serverName, Tool: tool.Name, Reason: "invalid tool name",
			})
			continue
		}
		if owner, taken := s.toolOwner[tool.Name]; taken {
			s.rejected = append(s.rejected, ToolRejection{
				Server: serverName, Tool: tool.Name,
				Reason: "name already provided by " + owner,
			})
			continue
		}
		tool.Description = pkgstrings.TruncateDescription(tool.Description, pkgstrings.DefaultDescriptionMaxLen)
		s.toolOwner[tool.Name] = serverName
		s.tools = append(s.tools, tool)
	}
}

func (s *InstanceSet) markReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
}

func (s *InstanceSet) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// owner returns the connection serving the given tool and its timeout.
func (s *InstanceSet) owner(toolName string) (mcpclient.Connection, time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	serverName, ok := s.toolOwner[toolName]
	if !ok {
		return nil, 0, false
	}
	return s.conns[serverName], s.timeouts[serverName], true
}

// ownerName returns the catalog name of the server providing a tool.
func (s *InstanceSet) ownerName(toolName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.toolOwner[toolName]
	return name, ok
}

// catalog returns a copy of the aggregated tool list.
func (s *InstanceSet) catalog() []mcp.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mcp.Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

// descriptor returns the aggregated tool with the given name.
func (s *InstanceSet) descriptor(toolName string) (mcp.Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.toolOwner[toolName]; !ok {
		return mcp.Tool{}, false
	}
	for _, tool := range s.tools {
		if tool.Name == toolName {
			return tool, true
		}
	}
	return mcp.Tool{}, false
}

// connections returns a snapshot of (catalog name, connection) pairs.
func (s *InstanceSet) connections() map[string]mcpclient.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]mcpclient.Connection, len(s.conns))
	for name, conn := range s.conns {
		out[name] = conn
	}
	return out
}

// rejections returns a copy of the recorded aggregation rejections.
func (s *InstanceSet) rejections() []ToolRejection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolRejection, len(s.rejected))
	copy(out, s.rejected)
	return out
}

func (s *InstanceSet) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

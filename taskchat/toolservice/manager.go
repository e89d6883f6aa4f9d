// Package toolservice connects to the task backend's MCP tool service and
// dispatches tool calls with reconnect-aware retries.
package toolservice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/covall/todoist-ai-chat/taskchat"
	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
	"github.com/covall/todoist-ai-chat/taskchat/harness/schema"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Dialer builds the client transport for one connection attempt.
type Dialer func(ctx context.Context, endpoint string, httpClient *http.Client) (mcp.Transport, error)

// Config holds connection settings.
type Config struct {
	Endpoint       string
	Token          string
	ConnectTimeout time.Duration // applies to dial, handshake and tool listing
	CallTimeout    time.Duration // applies to each tools/call
	ClientName     string
	ClientVersion  string
}

// Handle is one live session with the tool service.
type Handle struct {
	ID          string
	Session     *mcp.ClientSession
	ConnectedAt time.Time
}

// Manager owns the single live connection to the tool service and the tool
// catalog it advertised.
type Manager struct {
	cfg        Config
	logger     zerolog.Logger
	dial       Dialer
	client     *mcp.Client
	httpClient *http.Client

	// connMu serialises Connect, Reconnect and Close.
	connMu sync.Mutex

	mu     sync.RWMutex
	state  State
	handle *Handle
	tools  []ports.ToolDescriptor
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the streamable HTTP transport.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dial = d
		}
	}
}

// WithHTTPClient replaces the bearer-token HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// NewManager creates a disconnected manager.
func NewManager(cfg Config, logger zerolog.Logger, opts ...Option) *Manager {
	if cfg.Endpoint == "" {
		cfg.Endpoint = taskchat.DefaultToolEndpoint
	}
	if cfg.ClientName == "" {
		cfg.ClientName = taskchat.DefaultAppName
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = taskchat.DefaultClientVersion
	}

	m := &Manager{
		cfg:    cfg,
		logger: logger.With().Str("component", "toolservice").Logger(),
		dial:   StreamableDialer,
		client: mcp.NewClient(&mcp.Implementation{Name: cfg.ClientName, Version: cfg.ClientVersion}, nil),
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.httpClient == nil {
		m.httpClient = bearerClient(cfg.Token)
	}
	return m
}

// bearerClient attaches "Authorization: Bearer <token>" to every request.
// No client-wide timeout: the streamable transport keeps a long-lived stream open.
func bearerClient(token string) *http.Client {
	if token == "" {
		return &http.Client{}
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return oauth2.NewClient(context.Background(), src)
}

// StreamableDialer is the default Dialer: MCP streamable HTTP.
func StreamableDialer(_ context.Context, endpoint string, httpClient *http.Client) (mcp.Transport, error) {
	normalized, err := normalizeEndpoint(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid tool service endpoint: %w", err)
	}
	return &mcp.StreamableClientTransport{Endpoint: normalized, HTTPClient: httpClient}, nil
}

func normalizeEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("endpoint is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	parsed.Scheme = scheme
	return parsed.String(), nil
}

// Connect establishes a session and loads the tool catalog. It is a no-op
// when a session is already live.
func (m *Manager) Connect(ctx context.Context) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.current() != nil {
		return nil
	}
	return m.connectLocked(ctx)
}

// Reconnect drops the live session, if any, and connects again. Errors from
// closing the old session are logged and ignored.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.logger.Info().Str("handle_id", m.HandleID()).Msg("Reconnecting to tool service")
	m.closeLocked()
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	m.setState(StateConnecting)

	id := uuid.NewString()
	logger := m.logger.With().Str("handle_id", id).Str("endpoint", m.cfg.Endpoint).Logger()
	logger.Info().Msg("Connecting to tool service")

	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	transport, err := m.dial(ctx, m.cfg.Endpoint, m.httpClient)
	if err != nil {
		m.fail(logger)
		return &ports.ConnectionError{Op: "connect", Endpoint: m.cfg.Endpoint, Err: err}
	}

	session, err := m.client.Connect(ctx, transport, nil)
	if err != nil {
		m.fail(logger)
		return &ports.ConnectionError{Op: "connect", Endpoint: m.cfg.Endpoint, Err: err}
	}

	tools, err := listTools(ctx, session)
	if err != nil {
		if cerr := session.Close(); cerr != nil {
			logger.Debug().Err(cerr).Msg("Failed to close session after listing error")
		}
		m.fail(logger)
		return &ports.ConnectionError{Op: "list tools", Endpoint: m.cfg.Endpoint, Err: err}
	}

	m.mu.Lock()
	m.handle = &Handle{ID: id, Session: session, ConnectedAt: time.Now()}
	m.tools = tools
	m.state = StateConnected
	m.mu.Unlock()

	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	logger.Info().Int("tool_count", len(tools)).Strs("tools", names).Msg("Connected to tool service")
	return nil
}

// fail marks the manager disconnected and drops the catalog, which belonged
// to a session that no longer exists.
func (m *Manager) fail(logger zerolog.Logger) {
	m.mu.Lock()
	dropped := len(m.tools)
	m.tools = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if dropped > 0 {
		logger.Warn().Int("tool_count", dropped).Msg("Connect failed, tool catalog cleared")
	}
}

func listTools(ctx context.Context, session *mcp.ClientSession) ([]ports.ToolDescriptor, error) {
	var tools []ports.ToolDescriptor
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, err
		}
		if tool == nil {
			continue
		}
		input, err := schema.FromAny(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q input schema: %w", tool.Name, err)
		}
		tools = append(tools, ports.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: input,
		})
	}
	return tools, nil
}

// Invoke performs one tools/call on the live session.
func (m *Manager) Invoke(ctx context.Context, name string, args schema.Value) (schema.Value, error) {
	h := m.current()
	if h == nil {
		return schema.Null(), &ports.ConnectionError{Op: "call tool", Endpoint: m.cfg.Endpoint, Err: ports.ErrNotConnected}
	}

	if m.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()
	}

	arguments := map[string]any{}
	if args.Kind() == schema.KindMap {
		arguments = args.Any().(map[string]any)
	}

	m.logger.Debug().Str("handle_id", h.ID).Str("tool", name).Msg("Calling tool")
	res, err := h.Session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return schema.Null(), fmt.Errorf("call tool %q: %w", name, err)
	}
	return decodeResult(name, res)
}

// Tools returns a copy of the catalog from the most recent successful connect.
// It is empty after a failed connect.
func (m *Manager) Tools() []ports.ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ports.ToolDescriptor, len(m.tools))
	copy(out, m.tools)
	return out
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// HandleID returns the id of the live handle, or "" when disconnected.
func (m *Manager) HandleID() string {
	if h := m.current(); h != nil {
		return h.ID
	}
	return ""
}

// Close ends the live session. The catalog is kept until the next connect.
func (m *Manager) Close() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	h := m.detach()
	if h == nil {
		return nil
	}
	if err := h.Session.Close(); err != nil {
		return fmt.Errorf("close tool service session: %w", err)
	}
	m.logger.Info().Str("handle_id", h.ID).Msg("Tool service connection closed")
	return nil
}

func (m *Manager) closeLocked() {
	h := m.detach()
	if h == nil {
		return
	}
	if err := h.Session.Close(); err != nil {
		m.logger.Warn().Err(err).Str("handle_id", h.ID).Msg("Failed to close previous session")
	}
}

func (m *Manager) detach() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.handle
	m.handle = nil
	m.state = StateDisconnected
	return h
}

func (m *Manager) current() *Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Ensure Manager serves the catalog and the invoker.
var (
	_ ports.ToolCatalog      = (*Manager)(nil)
	_ ports.CatalogConnector = (*Manager)(nil)
	_ Connection             = (*Manager)(nil)
)

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	validate "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/martinemde/agentcore/i18n"
	"github.com/martinemde/agentcore/protocol"
	"github.com/martinemde/agentcore/telemetry"
	"github.com/martinemde/agentcore/unifiedllm"
)

// ErrUnknownTool is wrapped by Registry.Handler lookups that miss.
var ErrUnknownTool = errors.New("tools: unknown tool")

var (
	catalogOnce sync.Once
	catalog     i18n.Catalog
)

func defaultCatalog() i18n.Catalog {
	catalogOnce.Do(func() { catalog = i18n.Default() })
	return catalog
}

// ToolSpec is the model-facing description of a tool.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Definition converts the spec to the model client's tool type.
func (s ToolSpec) Definition() unifiedllm.ToolDefinition {
	return unifiedllm.ToolDefinition{Name: s.Name, Description: s.Description, Parameters: s.Parameters}
}

var reflector = jsonschema.Reflector{
	Anonymous:                 true,
	DoNotReference:            true,
	ExpandedStruct:            true,
	AllowAdditionalProperties: true,
}

// SchemaFor reflects the JSON schema of an argument struct. Fields without
// omitempty are required.
func SchemaFor[T any]() json.RawMessage {
	var zero T
	data, err := json.Marshal(reflector.Reflect(&zero))
	if err != nil {
		panic(fmt.Sprintf("tools: reflect schema for %T: %v", zero, err))
	}
	return data
}

type entry struct {
	spec    ToolSpec
	handler ToolHandler
	schema  *validate.Schema
}

// Registry maps tool names to handlers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics records tool call counters and durations into m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a tool. Its parameter schema, when present, is
// compiled here so that a bad schema fails at startup rather than on the
// first call.
func (r *Registry) Register(spec ToolSpec, h ToolHandler) error {
	if spec.Name == "" {
		return errors.New("tools: register: empty tool name")
	}
	e := &entry{spec: spec, handler: h}
	if len(spec.Parameters) > 0 {
		compiled, err := validate.CompileString(spec.Name+".schema.json", string(spec.Parameters))
		if err != nil {
			return fmt.Errorf("tools: compile %s schema: %w", spec.Name, err)
		}
		e.schema = compiled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[spec.Name]; !exists {
		r.order = append(r.order, spec.Name)
	}
	r.entries[spec.Name] = e
	return nil
}

// Handler returns the handler registered under name.
func (r *Registry) Handler(name string) (ToolHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return e.handler, nil
}

// Specs returns the registered tool specs in registration order.
func (r *Registry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.entries[name].spec)
	}
	return specs
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Dispatch runs inv on its handler. Lookup and payload checks happen
// before the handler is called; the handler is never retried.
func (r *Registry) Dispatch(ctx context.Context, inv ToolInvocation) (out ToolOutput, err error) {
	ctx, span := telemetry.StartSpan(ctx, "tool.dispatch", "tool", inv.ToolName, "call_id", inv.CallID)
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool handler panicked", "tool", inv.ToolName, "call_id", inv.CallID, "panic", p)
			out, err = ToolOutput{}, Fatal(fmt.Sprintf("tool %s panicked: %v", inv.ToolName, p))
		}
		r.observe(inv.ToolName, start, err)
		telemetry.EndSpan(span, err)
	}()

	r.mu.RLock()
	e, ok := r.entries[inv.ToolName]
	r.mu.RUnlock()
	if !ok {
		return ToolOutput{}, RespondToModel(inv.Turn.T("tools.error.unsupported_call", "name", inv.ToolName))
	}
	if !e.handler.MatchesKind(inv.Payload) {
		return ToolOutput{}, RespondToModel(inv.Turn.T("tools.error.incompatible_payload", "name", inv.ToolName))
	}
	if e.schema != nil && inv.Payload.Type == PayloadFunction {
		if err := validateArguments(e.schema, inv.Payload.Arguments); err != nil {
			return ToolOutput{}, RespondToModel(inv.Turn.T("tools.error.invalid_arguments", "error", err.Error()))
		}
	}
	return e.handler.Handle(ctx, inv)
}

func (r *Registry) observe(tool string, start time.Time, err error) {
	status := "ok"
	switch {
	case err == nil:
	case IsFatal(err):
		status = "fatal"
	default:
		status = "respond_to_model"
	}
	r.logger.Debug("tool call finished", "tool", tool, "status", status, "duration", time.Since(start))
	if r.metrics == nil {
		return
	}
	r.metrics.ToolCalls.WithLabelValues(tool, status).Inc()
	r.metrics.ToolDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}

func validateArguments(schema *validate.Schema, arguments string) error {
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	var decoded any
	if err := json.Unmarshal([]byte(arguments), &decoded); err != nil {
		return err
	}
	return schema.Validate(decoded)
}

// parseArguments decodes function arguments into T, reporting failures in
// the model's terms.
func parseArguments[T any](inv ToolInvocation) (T, error) {
	var args T
	raw := inv.Payload.Arguments
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return args, RespondToModel(inv.Turn.T("tools.error.invalid_arguments", "error", err.Error()))
	}
	return args, nil
}

// ToolCall is a model-issued call extracted from a history item.
type ToolCall struct {
	Name    string
	CallID  string
	Payload ToolPayload
}

// Router connects history items to the registry.
type Router struct {
	registry *Registry
}

// NewRouter wraps reg.
func NewRouter(reg *Registry) *Router {
	return &Router{registry: reg}
}

// Registry returns the underlying registry.
func (rt *Router) Registry() *Registry { return rt.registry }

// Definitions returns the tool definitions to send with a model request.
func (rt *Router) Definitions() []unifiedllm.ToolDefinition {
	specs := rt.registry.Specs()
	defs := make([]unifiedllm.ToolDefinition, len(specs))
	for i, s := range specs {
		defs[i] = s.Definition()
	}
	return defs
}

// BuildToolCall extracts a tool call from item. It reports false for items
// that are not calls.
func (rt *Router) BuildToolCall(item protocol.ResponseItem) (ToolCall, bool) {
	if item.Type != protocol.ItemFunctionCall {
		return ToolCall{}, false
	}
	return ToolCall{Name: item.Name, CallID: item.CallID, Payload: FunctionPayload(item.Arguments)}, true
}

// DispatchToolCall runs call and returns the history item answering it.
// Recoverable errors become an unsuccessful output; only fatal errors are
// returned.
func (rt *Router) DispatchToolCall(ctx context.Context, session SessionHandle, turn TurnInfo, call ToolCall) (protocol.ResponseItem, error) {
	out, err := rt.registry.Dispatch(ctx, ToolInvocation{
		Session:  session,
		Turn:     turn,
		CallID:   call.CallID,
		ToolName: call.Name,
		Payload:  call.Payload,
	})
	if err != nil {
		if msg, ok := ModelMessage(err); ok {
			return Failed(msg).ResponseItem(call.CallID), nil
		}
		return protocol.ResponseItem{}, err
	}
	return out.ResponseItem(call.CallID), nil
}

package tools

// RouterConfig selects the tools offered to the model.
type RouterConfig struct {
	// Collab registers the sub-agent tools. Sessions at the maximum agent
	// depth leave it off.
	Collab bool

	// ClaudeAliases registers Task, TaskOutput, TaskStop, ToolSearch, and
	// Skill. The sub-agent aliases are only registered along with Collab.
	ClaudeAliases bool

	BatchRead BatchReadHandler
}

// DefaultRouterConfig enables every tool.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{Collab: true, ClaudeAliases: true}
}

// NewDefaultRouter builds a router with the built-in tools.
func NewDefaultRouter(cfg RouterConfig, opts ...Option) (*Router, error) {
	reg := NewRegistry(opts...)
	type tool struct {
		spec    ToolSpec
		handler ToolHandler
	}
	toolset := []tool{
		{ShellSpec(), ShellHandler{}},
		{BatchReadSpec(), cfg.BatchRead},
		{SearchToolSpec(), SearchToolHandler{Registry: reg}},
	}
	if cfg.Collab {
		for _, spec := range CollabSpecs() {
			toolset = append(toolset, tool{spec, CollabHandler{}})
		}
	}
	if cfg.ClaudeAliases {
		adapter := ClaudeAdapter{Registry: reg}
		for _, spec := range ClaudeAdapterSpecs() {
			if spec.Name != ClaudeToolSearch && !cfg.Collab {
				continue
			}
			toolset = append(toolset, tool{spec, adapter})
		}
	}
	for _, t := range toolset {
		if err := reg.Register(t.spec, t.handler); err != nil {
			return nil, err
		}
	}
	return NewRouter(reg), nil
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/kit"
	"github.com/hazyhaar/loadx/notation"
	"github.com/hazyhaar/loadx/registry"
)

// RegisterMCP registers the loading-state tools on an MCP server. Tools
// address elements by CSS selector against the engine's document.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerApplyTool(srv)
	e.registerRemoveTool(srv)
	e.registerUpdateTool(srv)
	e.registerInspectTool(srv)
	e.registerAnnounceTool(srv)
	e.registerStatsTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (e *Engine) findOne(selector string) (*dom.Element, error) {
	el := e.doc.Find(selector)
	if el == nil {
		return nil, fmt.Errorf("engine: no element matches %q", selector)
	}
	return el, nil
}

// --- apply ---

type applyRequest struct {
	Selector  string   `json:"selector"`
	Strategy  string   `json:"strategy,omitempty"`
	Message   string   `json:"message,omitempty"`
	Spinner   string   `json:"spinner_type,omitempty"`
	Rows      *int     `json:"rows,omitempty"`
	MinHeight *int     `json:"min_height,omitempty"`
	Duration  *int     `json:"duration_ms,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Urgent    bool     `json:"urgent,omitempty"`
}

func (r *applyRequest) explicit() bool {
	return r.Strategy != "" || r.Message != "" || r.Spinner != "" ||
		r.Rows != nil || r.MinHeight != nil || r.Duration != nil ||
		r.Value != nil || r.Max != nil || r.Urgent
}

func (r *applyRequest) options() notation.Options {
	return notation.Options{
		Strategy:    r.Strategy,
		Message:     r.Message,
		SpinnerType: r.Spinner,
		Rows:        r.Rows,
		MinHeight:   r.MinHeight,
		Duration:    r.Duration,
		Value:       r.Value,
		Max:         r.Max,
		Urgent:      r.Urgent,
	}
}

func (e *Engine) registerApplyTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "loadx_apply",
		Description: "Apply a loading state to the first element matching a CSS selector. Without explicit options the element's own markup notation decides the strategy.",
		InputSchema: inputSchema(map[string]any{
			"selector":     map[string]any{"type": "string", "description": "CSS selector, first match wins"},
			"strategy":     map[string]any{"type": "string", "enum": []any{"spinner", "skeleton", "progress", "fade"}, "description": "Strategy override"},
			"message":      map[string]any{"type": "string", "description": "Accessible loading message"},
			"spinner_type": map[string]any{"type": "string", "enum": []any{"circle", "dots", "bars"}, "description": "Spinner variant"},
			"rows":         map[string]any{"type": "integer", "description": "Skeleton row count"},
			"min_height":   map[string]any{"type": "integer", "description": "Reserved height in px"},
			"duration_ms":  map[string]any{"type": "integer", "description": "Fade transition duration"},
			"value":        map[string]any{"type": "number", "description": "Initial progress value"},
			"max":          map[string]any{"type": "number", "description": "Progress maximum (default 100)"},
			"urgent":       map[string]any{"type": "boolean", "description": "Announce assertively"},
		}, []string{"selector"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		rr := req.(*applyRequest)
		el, err := e.findOne(rr.Selector)
		if err != nil {
			return nil, err
		}
		if rr.explicit() {
			e.Apply(el, rr.options())
		} else {
			e.Apply(el)
		}
		return map[string]string{
			"element":  el.String(),
			"strategy": e.strat.Active(el),
		}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr applyRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- remove ---

type removeRequest struct {
	Selector string `json:"selector"`
}

func (e *Engine) registerRemoveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "loadx_remove",
		Description: "Remove the loading state from the first element matching a CSS selector. Restores the original content once the minimum display time has passed.",
		InputSchema: inputSchema(map[string]any{
			"selector": map[string]any{"type": "string", "description": "CSS selector, first match wins"},
		}, []string{"selector"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		rr := req.(*removeRequest)
		el, err := e.findOne(rr.Selector)
		if err != nil {
			return nil, err
		}
		e.Remove(el)
		return map[string]string{"element": el.String(), "status": "scheduled"}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr removeRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- update ---

type updateRequest struct {
	Selector string  `json:"selector"`
	Value    float64 `json:"value"`
}

func (e *Engine) registerUpdateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "loadx_update",
		Description: "Push a progress value to the first element matching a CSS selector. Only elements under the progress strategy react.",
		InputSchema: inputSchema(map[string]any{
			"selector": map[string]any{"type": "string", "description": "CSS selector, first match wins"},
			"value":    map[string]any{"type": "number", "description": "Progress value against the element's max"},
		}, []string{"selector", "value"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		rr := req.(*updateRequest)
		el, err := e.findOne(rr.Selector)
		if err != nil {
			return nil, err
		}
		e.Update(el, rr.Value)
		return map[string]any{"element": el.String(), "value": rr.Value}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr updateRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- inspect ---

type inspectRequest struct {
	Selector string `json:"selector,omitempty"`
}

type elementReport struct {
	Element   string  `json:"element"`
	Strategy  string  `json:"strategy"`
	Message   string  `json:"message,omitempty"`
	Activated string  `json:"activated_at,omitempty"`
	Value     float64 `json:"value,omitempty"`
}

func (e *Engine) report(id uint64, st *registry.State) elementReport {
	rep := elementReport{Strategy: st.Strategy, Message: st.Options.Message}
	if el := e.doc.Element(id); el != nil {
		rep.Element = el.String()
	}
	if !st.ActivatedAt.IsZero() {
		rep.Activated = st.ActivatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	if st.Options.Value != nil {
		rep.Value = *st.Options.Value
	}
	return rep
}

func (e *Engine) registerInspectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "loadx_inspect",
		Description: "Inspect active loading states. With a selector, reports that element; without, lists every element currently in a loading state.",
		InputSchema: inputSchema(map[string]any{
			"selector": map[string]any{"type": "string", "description": "Optional CSS selector to narrow to one element"},
		}, nil),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		rr := req.(*inspectRequest)
		if rr.Selector != "" {
			el, err := e.findOne(rr.Selector)
			if err != nil {
				return nil, err
			}
			st, ok := e.states.Get(el)
			if !ok {
				return map[string]any{"element": el.String(), "active": false}, nil
			}
			return e.report(el.ID(), st), nil
		}
		reports := make([]elementReport, 0, e.states.Len())
		e.states.Each(func(id uint64, st *registry.State) {
			reports = append(reports, e.report(id, st))
		})
		return map[string]any{"active": len(reports), "states": reports}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr inspectRequest
		json.Unmarshal(req.Params.Arguments, &rr)
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- announce ---

type announceRequest struct {
	Message  string `json:"message"`
	Selector string `json:"selector,omitempty"`
}

func (e *Engine) registerAnnounceTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "loadx_announce",
		Description: "Speak a message through the shared ARIA live region. An optional source selector decides politeness via the element's urgency attribute.",
		InputSchema: inputSchema(map[string]any{
			"message":  map[string]any{"type": "string", "description": "Text for screen readers"},
			"selector": map[string]any{"type": "string", "description": "Optional source element for urgency"},
		}, []string{"message"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		rr := req.(*announceRequest)
		var source *dom.Element
		if rr.Selector != "" {
			el, err := e.findOne(rr.Selector)
			if err != nil {
				return nil, err
			}
			source = el
		}
		e.Announce(rr.Message, source)
		return map[string]string{"status": "announced"}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr announceRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- stats ---

func (e *Engine) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "loadx_stats",
		Description: "Get engine counters: active states, watcher batches, instrumented operations, scheduler activity.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return e.Stats(), nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

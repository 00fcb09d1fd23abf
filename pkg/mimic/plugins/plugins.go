// Package plugins implements the agent's action registry: named,
// schema-described actions the model may invoke during generation. Plugins
// are registered explicitly at startup; the registry matches them to a
// turn by trigger heuristics, translates them to the completion backend's
// tool format, executes requested calls and contains their failures.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jholhewres/mimic/pkg/mimic/environment"
	"github.com/jholhewres/mimic/pkg/mimic/llm"
)

// Parameter describes one plugin input field.
type Parameter struct {
	// Type is the JSON schema type ("string", "number", "boolean").
	Type string

	// Description tells the model what the field means.
	Description string

	// Enum restricts the value to a fixed set, when non-empty.
	Enum []string

	// Required marks the field mandatory. This flag lives outside the
	// model-facing property schema; it is translated into the schema's
	// required list.
	Required bool
}

// Descriptor is a plugin's static self-description, loaded once at
// startup and immutable afterwards.
type Descriptor struct {
	// Name uniquely identifies the plugin.
	Name string

	// Description tells the model when to use the plugin.
	Description string

	// TriggerPhrases make the plugin eligible only when a history
	// message contains one of them (case-insensitive). Empty means
	// always eligible.
	TriggerPhrases []string

	// TriggerPatterns are regexp alternatives to TriggerPhrases.
	TriggerPatterns []*regexp.Regexp

	// Parameters is the input schema; nil means no input.
	Parameters map[string]Parameter
}

// Result is what a plugin run produces.
type Result struct {
	// Text is folded back into the follow-up completion call.
	Text string

	// AttachmentURLs are files to deliver with the reply.
	AttachmentURLs []string

	// StickerIDs are stickers to deliver with the reply.
	StickerIDs []string

	// ShortCircuit skips the follow-up completion; the delivery layer
	// sends the attachments/stickers as-is.
	ShortCircuit bool
}

// RunOptions is passed to a plugin's Run.
type RunOptions struct {
	// Env is the turn's conversation snapshot.
	Env *environment.Environment

	// Input is the decoded tool-call arguments.
	Input map[string]any
}

// Plugin is one registrable action.
type Plugin interface {
	// Descriptor returns the plugin's static description.
	Descriptor() Descriptor

	// Available reports whether the plugin can be used in this
	// environment (e.g. guild-only actions in a DM).
	Available(env *environment.Environment) bool

	// Run executes the action. A nil result means "done, nothing to
	// report".
	Run(ctx context.Context, opts RunOptions) (*Result, error)
}

// ToolResult is the outcome of one executed tool call.
type ToolResult struct {
	// ID is the backend's tool-call ID, echoed back.
	ID string

	// Name is the plugin name.
	Name string

	// Output is the text folded into the follow-up completion.
	Output string

	// IsError marks a contained plugin failure.
	IsError bool

	// ShortCircuit mirrors Result.ShortCircuit.
	ShortCircuit bool

	// Result is the full plugin result, when the run produced one.
	Result *Result
}

// Registry holds the loaded plugins.
type Registry struct {
	plugins   []Plugin
	byName    map[string]Plugin
	blacklist map[string]bool
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. Blacklisted names stay loaded
// but are never matched or exposed to the model.
func NewRegistry(blacklist []string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	bl := make(map[string]bool, len(blacklist))
	for _, name := range blacklist {
		bl[name] = true
	}
	return &Registry{
		byName:    make(map[string]Plugin),
		blacklist: bl,
		logger:    logger.With("component", "plugins"),
	}
}

// Register adds a plugin. Names must be unique.
func (r *Registry) Register(p Plugin) error {
	name := p.Descriptor().Name
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("plugins: duplicate plugin %q", name)
	}
	r.byName[name] = p
	r.plugins = append(r.plugins, p)
	return nil
}

// Get returns a plugin by name, nil when absent.
func (r *Registry) Get(name string) Plugin {
	return r.byName[name]
}

// Len reports the number of registered plugins.
func (r *Registry) Len() int { return len(r.plugins) }

// Triggered returns the plugins eligible for this turn: for every history
// message, a loaded, available, non-blacklisted plugin is triggered when
// it declares no phrases (always eligible) or any phrase/pattern matches
// the message content. Each plugin appears at most once.
func (r *Registry) Triggered(env *environment.Environment) []Plugin {
	var out []Plugin
	seen := make(map[string]bool)

	for _, msg := range env.History.Messages {
		for _, p := range r.plugins {
			desc := p.Descriptor()
			if seen[desc.Name] || r.blacklist[desc.Name] {
				continue
			}
			if !p.Available(env) {
				continue
			}
			if !matches(desc, msg.Content) {
				continue
			}
			seen[desc.Name] = true
			out = append(out, p)
		}
	}
	return out
}

func matches(desc Descriptor, content string) bool {
	if len(desc.TriggerPhrases) == 0 && len(desc.TriggerPatterns) == 0 {
		return true
	}
	lower := strings.ToLower(content)
	for _, phrase := range desc.TriggerPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	for _, pattern := range desc.TriggerPatterns {
		if pattern.MatchString(content) {
			return true
		}
	}
	return false
}

// ---------- Schema translation ----------

// propertySchema is the model-facing parameter schema. The Required flag
// deliberately has no field here; it only feeds the required list.
type propertySchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

type parameterSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]propertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

// AsTools translates plugins into the backend's tool definitions.
func (r *Registry) AsTools(selected []Plugin) []llm.ToolDefinition {
	tools := make([]llm.ToolDefinition, 0, len(selected))

	for _, p := range selected {
		desc := p.Descriptor()

		schema := parameterSchema{
			Type:       "object",
			Properties: make(map[string]propertySchema),
			Required:   []string{},
		}
		for key, param := range desc.Parameters {
			schema.Properties[key] = propertySchema{
				Type:        param.Type,
				Description: param.Description,
				Enum:        param.Enum,
			}
			if param.Required {
				schema.Required = append(schema.Required, key)
			}
		}

		raw, err := json.Marshal(schema)
		if err != nil {
			r.logger.Error("failed to marshal tool schema", "plugin", desc.Name, "error", err)
			continue
		}

		tools = append(tools, llm.ToolDefinition{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        desc.Name,
				Description: desc.Description,
				Parameters:  raw,
			},
		})
	}
	return tools
}

// ---------- Execution ----------

// ExecuteAll runs every requested tool call in order. A missing plugin is
// logged and skipped; a failing or panicking plugin becomes a synthetic
// in-character result. One bad call never aborts the batch.
func (r *Registry) ExecuteAll(ctx context.Context, env *environment.Environment, calls []llm.ToolCall) []ToolResult {
	var results []ToolResult

	for _, call := range calls {
		name := call.Function.Name
		plugin := r.byName[name]
		if plugin == nil {
			r.logger.Warn("model requested unknown tool", "name", name)
			continue
		}

		results = append(results, r.execute(ctx, env, plugin, call))
	}
	return results
}

func (r *Registry) execute(ctx context.Context, env *environment.Environment, plugin Plugin, call llm.ToolCall) (tr ToolResult) {
	name := call.Function.Name
	tr = ToolResult{ID: call.ID, Name: name}

	// Keep the failure in character; the raw error never reaches the
	// model or the chat.
	fail := func(err any) {
		r.logger.Warn("plugin failed", "plugin", name, "error", err)
		tr.IsError = true
		tr.Output = fmt.Sprintf("the %s action I tried didn't work out, I couldn't finish it", name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			fail(rec)
		}
	}()

	input := make(map[string]any)
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
			fail(err)
			return tr
		}
	}

	result, err := plugin.Run(ctx, RunOptions{Env: env, Input: input})
	if err != nil {
		fail(err)
		return tr
	}

	if result == nil {
		tr.Output = "done"
		return tr
	}

	tr.Result = result
	tr.ShortCircuit = result.ShortCircuit
	tr.Output = result.Text
	if tr.Output == "" {
		tr.Output = "done"
	}
	return tr
}

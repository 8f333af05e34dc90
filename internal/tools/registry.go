package tools

import (
	"context"
	"fmt"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nextlevelbuilder/waorchestrator/internal/providers"
	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

// nameRE is the sanitization rule every tool name (built-in or DB) must
// satisfy before it can be exposed to a model (spec.md §4.3 invariant).
var nameRE = regexp.MustCompile(`^[a-z0-9_]+$`)

// BuiltinNames enumerates the fixed set of built-in primitives
// (spec.md §4.4). These names are reserved: a DB tool cannot register
// under one of them, but an ACTIVE DB tool with any other name wins
// over no built-in at all, and DB tools never shadow a built-in.
var BuiltinNames = []string{
	"get_current_time",
	"clear_conversation",
	"get_labels",
	"assign_label",
	"remove_label",
	"get_sessions_by_label",
	"reply_to_message",
	"send_followup_message",
	"lookup_client",
	"register_client",
	"save_credentials",
}

func isBuiltinName(name string) bool {
	for _, n := range BuiltinNames {
		if n == name {
			return true
		}
	}
	return false
}

// Registry builds the merged tool catalog for one bot: every built-in
// plus every ACTIVE DB tool whose name is not reserved by a built-in.
// DB tools never shadow built-ins (spec.md §4.3: "built-in names are
// reserved").
type Registry struct {
	repo        store.Repository
	builtins    map[string]BuiltinDescriptor
	schemaCache map[string]*jsonschema.Schema
}

// BuiltinDescriptor is the static definition of one built-in tool,
// used both for model-facing ToolDefinition generation and for
// resolving BUILTIN dispatch in the executor.
type BuiltinDescriptor struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// DefaultBuiltinDescriptors returns the model-facing definitions for
// every name in BuiltinNames, with the minimal parameter schema each
// built-in's executeBuiltin switch actually reads. A deployment wiring
// the registry for production use passes this; tests construct their
// own narrower subset.
func DefaultBuiltinDescriptors() []BuiltinDescriptor {
	strParam := func(name, desc string) map[string]interface{} {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{name: map[string]interface{}{"type": "string", "description": desc}},
			"required":   []interface{}{name},
		}
	}
	return []BuiltinDescriptor{
		{Name: "get_current_time", Description: "Returns the current time in an IANA timezone (default America/Mexico_City).", Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"timezone": map[string]interface{}{"type": "string", "description": "IANA zone name, e.g. America/Mexico_City"},
			},
		}},
		{Name: "clear_conversation", Description: "Clears this session's conversation history."},
		{Name: "get_labels", Description: "Lists every label defined for this bot with its session count."},
		{Name: "assign_label", Description: "Assigns a label to the current session.", Parameters: strParam("label", "the label name to assign")},
		{Name: "remove_label", Description: "Removes a label from the current session.", Parameters: strParam("label", "the label name to remove")},
		{Name: "get_sessions_by_label", Description: "Lists sessions carrying a given label, each with its most recent inbound messages.", Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"label": map[string]interface{}{"type": "string", "description": "the label name to filter by"},
				"count": map[string]interface{}{"type": "number", "description": "how many recent messages to include per session"},
			},
			"required": []interface{}{"label"},
		}},
		{Name: "reply_to_message", Description: "Sends content directly to the user, replying to a specific inbound message.", Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"content":    map[string]interface{}{"type": "string"},
				"message_id": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"content"},
		}},
		{Name: "send_followup_message", Description: "Sends a message to a different session belonging to the same bot, outside the current conversation.", Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"session_id": map[string]interface{}{"type": "string", "description": "the target session id, must belong to this bot"},
				"content":    map[string]interface{}{"type": "string", "description": "the message text to send"},
			},
			"required": []interface{}{"session_id", "content"},
		}},
		{Name: "lookup_client", Description: "Looks up a client by CURP, phone, or email.", Parameters: strParam("query", "CURP, phone, or email to search for")},
		{Name: "register_client", Description: "Registers a new client record.", Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name":  map[string]interface{}{"type": "string"},
				"curp":  map[string]interface{}{"type": "string"},
				"phone": map[string]interface{}{"type": "string"},
				"email": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"name"},
		}},
		{Name: "save_credentials", Description: "Stores credentials against an existing client record.", Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"client_id":   map[string]interface{}{"type": "string"},
				"credentials": map[string]interface{}{"type": "object"},
			},
			"required": []interface{}{"client_id", "credentials"},
		}},
	}
}

func NewRegistry(repo store.Repository, builtins []BuiltinDescriptor) *Registry {
	m := make(map[string]BuiltinDescriptor, len(builtins))
	for _, b := range builtins {
		m[b.Name] = b
	}
	return &Registry{repo: repo, builtins: m, schemaCache: make(map[string]*jsonschema.Schema)}
}

// Catalog returns the merged, model-facing tool list for botID.
func (r *Registry) Catalog(ctx context.Context, botID string) ([]providers.ToolDefinition, error) {
	defs := make([]providers.ToolDefinition, 0, len(r.builtins))
	for _, b := range r.builtins {
		defs = append(defs, providers.ToolDefinition{
			Name:        b.Name,
			Description: b.Description,
			Parameters:  b.Parameters,
		})
	}

	dbTools, err := r.repo.ListActiveTools(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("tools: list active tools: %w", err)
	}
	for _, t := range dbTools {
		if isBuiltinName(t.Name) {
			continue // built-in names are reserved; DB tool silently excluded
		}
		if !nameRE.MatchString(t.Name) {
			continue // malformed name never reaches the model
		}
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs, nil
}

// ValidateName reports whether name satisfies the sanitization rule.
func ValidateName(name string) bool {
	return nameRE.MatchString(name)
}

// CreateTool registers a new bot-defined tool, enforcing the create-time
// check spec.md §4.3 requires: a name reserved by a built-in fails with
// ALREADY_EXISTS semantics, the same signal a (botId,name) unique-index
// race produces, so callers apply one error path regardless of which
// check failed. A malformed (non-`^[a-z0-9_]+$`) name is still accepted
// here — it is simply never surfaced to the model (Catalog excludes it),
// mirroring how the teacher's own create path leaves sanitization to the
// read side rather than rejecting writes.
func (r *Registry) CreateTool(ctx context.Context, t *store.Tool) (*store.Tool, error) {
	if isBuiltinName(t.Name) {
		return nil, store.ErrAlreadyExists
	}
	return r.repo.CreateTool(ctx, t)
}

// ValidateArguments checks args against tool's JSON-Schema Parameters,
// compiling and caching the schema per tool ID.
func (r *Registry) ValidateArguments(t *store.Tool, args map[string]interface{}) error {
	if len(t.Parameters) == 0 {
		return nil
	}

	schema, ok := r.schemaCache[t.ID]
	if !ok {
		compiler := jsonschema.NewCompiler()
		schemaDoc, err := jsonschema.UnmarshalJSON(mapToReader(t.Parameters))
		if err != nil {
			return fmt.Errorf("tools: unmarshal schema for %s: %w", t.Name, err)
		}
		url := "mem://" + t.ID
		if err := compiler.AddResource(url, schemaDoc); err != nil {
			return fmt.Errorf("tools: add schema resource for %s: %w", t.Name, err)
		}
		schema, err = compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("tools: compile schema for %s: %w", t.Name, err)
		}
		r.schemaCache[t.ID] = schema
	}

	if err := schema.Validate(args); err != nil {
		return fmt.Errorf("tools: arguments for %s: %w", t.Name, err)
	}
	return nil
}

package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/mcpchat/config"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Descriptor is what the model sees of a tool.
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Result is the outcome of one invocation. Tool-level failures are reported
// with Success=false; Content then carries the failure text and Error a short
// reason.
type Result struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Failure builds an unsuccessful result.
func Failure(content, reason string) Result {
	return Result{Success: false, Content: content, Error: reason}
}

// Session is a connected tool provider.
type Session interface {
	// Discover lists the callable tools. Implementations cache the list.
	Discover(ctx context.Context) ([]Descriptor, error)
	// Invoke runs one tool. A returned error means the session itself is
	// unusable; tool failures come back as Result.Success=false.
	Invoke(ctx context.Context, name string, args map[string]interface{}) (Result, error)
}

// Tool defines the interface for any action the agent can take in-process.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Registry holds the builtin tools and serves them as a Session.
type Registry struct {
	tools   map[string]Tool
	order   []string
	schemas map[string]*gojsonschema.Schema
	log     zerolog.Logger
}

// NewRegistry registers the builtin file and command tools.
func NewRegistry(cfg *config.Config, log zerolog.Logger) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
		log:     log,
	}

	r.Register(&ReadFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&WriteFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ListFilesTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands, log: log})

	return r
}

// Register adds t, replacing any tool with the same name. A schema that
// gojsonschema cannot compile disables argument validation for that tool.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.InputSchema()))
	if err != nil {
		r.log.Warn().Err(err).Str("tool", t.Name()).Msg("Invalid input schema, arguments will not be validated")
		delete(r.schemas, t.Name())
		return
	}
	r.schemas[t.Name()] = schema
}

func (r *Registry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Discover returns the builtin tools in registration order.
func (r *Registry) Discover(ctx context.Context) ([]Descriptor, error) {
	descs := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		descs = append(descs, Descriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return descs, nil
}

// Invoke validates args against the tool's schema and executes it.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return Failure(fmt.Sprintf("unknown tool '%s'", name), "unknown tool"), nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	if err := validateArgs(r.schemas[name], args); err != nil {
		return Failure(err.Error(), "invalid arguments"), nil
	}

	out, err := t.Execute(ctx, args)
	if err != nil {
		r.log.Debug().Err(err).Str("tool", name).Msg("Builtin tool failed")
		return Failure(err.Error(), "tool returned error"), nil
	}
	return Result{Success: true, Content: out}, nil
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return errors.Wrapf(err, "could not validate arguments")
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	sort.Strings(msgs)
	return errors.New("invalid arguments: %s", strings.Join(msgs, "; "))
}

// objectSchema builds the input schema of a builtin tool whose arguments are
// all strings.
func objectSchema(props map[string]string, required ...string) map[string]interface{} {
	properties := make(map[string]interface{}, len(props))
	for name, desc := range props {
		properties[name] = map[string]interface{}{
			"type":        "string",
			"description": desc,
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]interface{}, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string, log zerolog.Logger) bool {
	if len(strings.Fields(command)) == 0 {
		return false
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("Invalid regex in allowed_commands")
			// Fallback to simple string comparison if regex is invalid
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

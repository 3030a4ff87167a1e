package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/value"
)

type entry struct {
	cap    domain.Capability
	exec   Executor
	schema *jsonschema.Schema
}

// Registry routes actions to executors and validates parameters against
// each capability's JSON Schema before anything runs.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]entry),
		logger: slog.Default().With("component", "executor"),
	}
}

// Register adds every capability of exec. Names must be unique across executors.
func (r *Registry) Register(exec Executor) error {
	caps := exec.Capabilities()
	compiled := make([]entry, 0, len(caps))
	for _, c := range caps {
		if c.Name == "" {
			return fmt.Errorf("register: capability without name")
		}
		if c.BlastRadius == "" {
			c.BlastRadius = domain.BlastLocal
		}
		if c.RiskLevel == "" {
			c.RiskLevel = domain.RiskMedium
		}
		var schema *jsonschema.Schema
		if c.ParamsSchema != "" {
			s, err := compileSchema(c.Name, c.ParamsSchema)
			if err != nil {
				return err
			}
			schema = s
		}
		compiled = append(compiled, entry{cap: c, exec: exec, schema: schema})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range compiled {
		if _, dup := r.tools[e.cap.Name]; dup {
			return fmt.Errorf("register %q: already registered", e.cap.Name)
		}
	}
	for _, e := range compiled {
		r.tools[e.cap.Name] = e
	}
	return nil
}

func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://aide.schemas.local/tools/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("tool %q schema load: %w", name, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %q schema compile: %w", name, err)
	}
	return s, nil
}

// Capability returns the metadata for an action.
func (r *Registry) Capability(name string) (domain.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.cap, ok
}

// Capabilities returns all registered capabilities sorted by name.
func (r *Registry) Capabilities() []domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Capability, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.cap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	caps := r.Capabilities()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.Name
	}
	return names
}

// Validate checks params against the action's schema.
func (r *Registry) Validate(name string, params value.Object) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return domain.ErrUnknownTool.Wrap(name)
	}
	if e.schema == nil {
		return nil
	}
	if params == nil {
		params = value.Object{}
	}
	if err := e.schema.Validate(params.Any()); err != nil {
		return domain.ErrInvalidParams.Wrap(fmt.Sprintf("%s: %v", name, err))
	}
	return nil
}

// Execute validates and runs an action. Executor errors and panics are
// converted into a failed Result; the returned error is reserved for
// unknown actions and invalid parameters.
func (r *Registry) Execute(ctx context.Context, name string, params value.Object) (res Result, err error) {
	if err := r.Validate(name, params); err != nil {
		return Result{}, err
	}
	r.mu.RLock()
	e := r.tools[name]
	r.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("executor panic", "action", name, "panic", p)
			res, err = Result{Success: false, Error: fmt.Sprintf("executor panic: %v", p)}, nil
		}
	}()

	res, execErr := e.exec.Execute(ctx, name, params.Clone())
	if execErr != nil {
		r.logger.Warn("execution failed", "action", name, "err", execErr)
		return Result{Success: false, Error: execErr.Error(), Unrecoverable: res.Unrecoverable}, nil
	}
	if !res.Success && res.Error == "" {
		res.Error = "action reported failure"
	}
	return res, nil
}

// Simulate asks the executor for a dry run. Actions that do not support
// simulation return a neutral prediction.
func (r *Registry) Simulate(ctx context.Context, name string, params value.Object) (pred Prediction, err error) {
	if err := r.Validate(name, params); err != nil {
		return Prediction{}, err
	}
	r.mu.RLock()
	e := r.tools[name]
	r.mu.RUnlock()
	if !e.cap.SupportsSimulation {
		return Prediction{WouldSucceed: true}, nil
	}

	defer func() {
		if p := recover(); p != nil {
			pred, err = Prediction{}, fmt.Errorf("simulate %s: panic: %v", name, p)
		}
	}()
	return e.exec.Simulate(ctx, name, params.Clone())
}

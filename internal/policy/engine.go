// Package policy evaluates deploy admission rules written in Rego.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/instantiate/internal/telemetry"
	"github.com/yairfalse/instantiate/pkg/resource"
)

// Query is the rule every module contributes to.
const Query = "data.instantiate.deploy.deny"

// Builtin rejects names that are not DNS labels and environment variables
// using the reserved prefix.
const Builtin = `package instantiate.deploy

deny contains msg if {
	not regex.match("^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$", input.request.name)
	msg := sprintf("name %q must be a lowercase DNS label", [input.request.name])
}

deny contains msg if {
	some key, _ in input.request.environmentVariables
	startswith(key, "INSTANTIATE_")
	msg := sprintf("environment variable %q uses the reserved INSTANTIATE_ prefix", [key])
}
`

// Input is the document rules see as input.
type Input struct {
	Request  resource.DeployRequest `json:"request"`
	Provider string                 `json:"provider"`
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Engine holds the compiled deny query.
type Engine struct {
	query   rego.PreparedEvalQuery
	modules []string
	logger  *telemetry.Logger
	tracer  trace.Tracer
}

// New compiles the built-in module together with extra modules keyed by
// file name.
func New(ctx context.Context, extra map[string]string) (*Engine, error) {
	names := make([]string, 0, len(extra)+1)
	opts := []func(*rego.Rego){rego.Query(Query), rego.Module("builtin.rego", Builtin)}
	names = append(names, "builtin.rego")
	for name, src := range extra {
		opts = append(opts, rego.Module(name, src))
		names = append(names, name)
	}
	sort.Strings(names)

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile deploy policy: %w", err)
	}

	return &Engine{
		query:   prepared,
		modules: names,
		logger:  telemetry.NewLogger("policy"),
		tracer:  otel.Tracer("instantiate/policy"),
	}, nil
}

// Load reads .rego files from paths, descending into directories, and
// compiles them with the built-in module.
func Load(ctx context.Context, paths []string) (*Engine, error) {
	modules := make(map[string]string)
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".rego") {
				return nil
			}
			src, err := os.ReadFile(filepath.Clean(path))
			if err != nil {
				return fmt.Errorf("read policy %s: %w", path, err)
			}
			modules[path] = string(src)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("load policies from %s: %w", root, err)
		}
	}
	return New(ctx, modules)
}

// Modules lists the compiled module names.
func (e *Engine) Modules() []string {
	return e.modules
}

// Evaluate runs every deny rule against in.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	ctx, span := e.tracer.Start(ctx, "policy.evaluate",
		trace.WithAttributes(
			attribute.String("cloud.provider", in.Provider),
			attribute.String("deploy.service", in.Request.Service)))
	defer span.End()

	rs, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate deploy policy: %w", err)
	}

	var reasons []string
	for _, result := range rs {
		for _, expr := range result.Expressions {
			values, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, v := range values {
				if msg, ok := v.(string); ok {
					reasons = append(reasons, msg)
				}
			}
		}
	}
	sort.Strings(reasons)

	decision := Decision{Allowed: len(reasons) == 0, Reasons: reasons}
	if !decision.Allowed {
		e.logger.WithContext(ctx).Info().
			Str("provider", in.Provider).
			Str("name", in.Request.Name).
			Strs("reasons", reasons).
			Msg("deploy denied by policy")
	}
	return decision, nil
}

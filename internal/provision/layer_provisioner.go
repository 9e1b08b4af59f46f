// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/terraref/imgprov/internal/container"
	"github.com/terraref/imgprov/internal/issue"
	"github.com/terraref/imgprov/internal/pipeline"
	"github.com/terraref/imgprov/internal/verify"
	"github.com/terraref/imgprov/pkg/recipe"
)

// Compile-time interface check
var _ Provisioner = (*LayerProvisioner)(nil)

type (
	// LayerProvisioner builds a recipe's layer set with a container engine.
	//
	// The image is built under a unique staging tag, verified, and only then
	// tagged with the recipe's tag. The staging tag is always removed.
	LayerProvisioner struct {
		engine   container.Engine
		config   *Config
		logger   *log.Logger
		output   io.Writer
		verifier *verify.Verifier
	}

	// ProvisionerOption configures a LayerProvisioner.
	ProvisionerOption func(*LayerProvisioner)

	// Planned is a recipe resolved against its build context and planned.
	Planned struct {
		Recipe   *recipe.Recipe
		Plan     *pipeline.Plan
		Sources  []Source
		Findings []recipe.PinFinding
	}
)

// WithLogger sets the provisioner's logger.
func WithLogger(l *log.Logger) ProvisionerOption {
	return func(p *LayerProvisioner) {
		p.logger = l
	}
}

// WithOutput sets where engine build output is streamed. Default: stderr.
func WithOutput(w io.Writer) ProvisionerOption {
	return func(p *LayerProvisioner) {
		p.output = w
	}
}

// NewLayerProvisioner creates a new LayerProvisioner.
func NewLayerProvisioner(engine container.Engine, cfg *Config, opts ...ProvisionerOption) *LayerProvisioner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &LayerProvisioner{
		engine: engine,
		config: cfg,
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "provision"}),
		output: os.Stderr,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.verifier = verify.New(engine, verify.WithLogger(p.logger))
	return p
}

// Config returns the provisioner's configuration.
func (p *LayerProvisioner) Config() *Config {
	return p.config
}

// Plan validates the recipe, applies the pin policy, resolves the copy
// sources and plans the layer set. Nothing is built.
func (p *LayerProvisioner) Plan(req Request) (*Planned, error) {
	if req.Recipe == nil {
		return nil, issue.NewErrorContext().
			WithOperation("plan image").
			WithIssue(issue.RecipeNotFoundId).
			Wrap(errors.New("no recipe given")).
			BuildError()
	}
	r := req.Recipe.Clone()
	if req.Tag != "" {
		r.Tag = req.Tag
	}

	if err := r.Validate(); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("validate recipe").
			WithResource(r.ImageTag()).
			WithIssue(issue.RecipeInvalidId).
			Wrap(err).
			BuildError()
	}

	findings := r.PinReport()
	if p.config.StrictPins {
		if err := r.StrictPins(); err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("check package pins").
				WithResource(r.ImageTag()).
				WithSuggestion("Pin every package to an exact version, or build without strict pins").
				WithIssue(issue.UnpinnedPackagesId).
				Wrap(err).
				BuildError()
		}
	}
	for _, f := range findings {
		p.logger.Warn("unpinned package", "kind", f.Kind, "package", f.Package.Name, "reason", f.Reason)
	}

	sources, err := ResolveCopies(req.ContextDir, r)
	if err != nil {
		return nil, copyError(req.ContextDir, err)
	}
	copies, err := CopySteps(sources, r.User)
	if err != nil {
		return nil, copyError(req.ContextDir, err)
	}

	plan, err := pipeline.FromRecipe(r, copies, pipeline.Options{Retries: p.config.PackageRetries})
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("plan image").
			WithResource(r.ImageTag()).
			WithIssue(issue.RecipeInvalidId).
			Wrap(err).
			BuildError()
	}
	p.logger.Debug("planned image", "tag", r.ImageTag(), "layers", len(plan.Layers()), "key", plan.Key())

	return &Planned{Recipe: r, Plan: plan, Sources: sources, Findings: findings}, nil
}

// Provision plans the recipe and returns the cached image when the target
// tag already carries the plan key. Otherwise it builds, verifies and tags
// the image. On failure the target tag is left as it was.
func (p *LayerProvisioner) Provision(ctx context.Context, req Request) (*Result, error) {
	planned, err := p.Plan(req)
	if err != nil {
		return nil, err
	}
	tag := planned.Recipe.ImageTag()
	result := &Result{
		ImageTag: tag,
		PlanKey:  planned.Plan.Key(),
		Layers:   planned.Plan.Layers(),
		Findings: planned.Findings,
	}

	if !p.config.ForceRebuild && p.isCached(ctx, tag, planned.Plan) {
		p.logger.Info("image is up to date", "tag", tag)
		result.Cached = true
		return result, nil
	}

	staging, err := p.build(ctx, planned)
	if err != nil {
		return nil, err
	}

	if !p.config.SkipVerify {
		report, err := p.verifier.Verify(ctx, staging, verify.FromPlan(planned.Plan))
		if err == nil {
			err = report.Err()
		}
		if err != nil {
			p.discard(ctx, staging)
			return nil, issue.NewErrorContext().
				WithOperation("verify image").
				WithResource(tag).
				WithIssue(issue.VerificationFailedId).
				Wrap(fmt.Errorf("%w: %w", ErrProvisioning, err)).
				BuildError()
		}
		result.Verification = report
	}

	if err := p.engine.Tag(ctx, staging, tag); err != nil {
		p.discard(ctx, staging)
		return nil, issue.WrapWithContext(err, "tag image", tag)
	}
	p.discard(ctx, staging)

	p.logger.Info("image provisioned", "tag", tag, "key", result.PlanKey.Encoded()[:12])
	return result, nil
}

// StagingTag returns the tag used while an image of plan is unverified.
func (p *LayerProvisioner) StagingTag(plan *pipeline.Plan) string {
	tag := fmt.Sprintf("imgprov-staging:%s-%s", plan.Key().Encoded()[:12], uuid.NewString()[:8])
	if p.config.TagSuffix != "" {
		tag += "-" + p.config.TagSuffix
	}
	return tag
}

// isCached reports whether tag exists and was built from plan. Inspect
// errors are treated as a cache miss.
func (p *LayerProvisioner) isCached(ctx context.Context, tag string, plan *pipeline.Plan) bool {
	info, err := p.engine.InspectImage(ctx, tag)
	if err != nil {
		return false
	}
	key, ok := info.Label(PlanKeyLabel)
	return ok && key == plan.Key().String()
}

// build stages the context and builds the staging image, retrying
// transient failures.
func (p *LayerProvisioner) build(ctx context.Context, planned *Planned) (string, error) {
	dockerfile, err := RenderDockerfile(planned.Plan, planned.Recipe.Labels)
	if err != nil {
		return "", issue.WrapWithOperation(err, "render Dockerfile")
	}
	bc, err := Stage(p.config.StagingDir, planned.Sources, dockerfile)
	if err != nil {
		return "", copyError(p.config.StagingDir, err)
	}
	defer bc.Cleanup()

	staging := p.StagingTag(planned.Plan)
	opts := container.BuildOptions{
		ContextDir: bc.Dir,
		Dockerfile: DockerfileName,
		Tag:        staging,
		NoCache:    p.config.NoCache,
		Pull:       p.config.Pull,
		Stdout:     p.output,
		Stderr:     p.output,
	}

	onRetry := func(attempt int, err error) {
		p.logger.Warn("transient build failure, retrying",
			"attempt", attempt+1, "max_attempts", p.config.Retry.MaxAttempts,
			"backoff", p.config.Retry.Backoff(attempt), "err", err)
	}
	err = container.RetryTransient(ctx, p.config.Retry, onRetry, func(int) error {
		return p.engine.Build(ctx, opts)
	})
	if err != nil {
		p.discard(ctx, staging)
		return "", fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	return staging, nil
}

// discard removes the staging tag. The engine keeps the image when it is
// also tagged with the final tag.
func (p *LayerProvisioner) discard(ctx context.Context, staging string) {
	ctx = context.WithoutCancel(ctx)
	if exists, _ := p.engine.ImageExists(ctx, staging); !exists {
		return
	}
	if err := p.engine.RemoveImage(ctx, staging, false); err != nil {
		p.logger.Warn("failed to remove staging image", "tag", staging, "err", err)
	}
}

func copyError(resource string, err error) error {
	ctx := issue.NewErrorContext().
		WithOperation("prepare build context").
		WithResource(resource)
	switch {
	case errors.Is(err, ErrPermission):
		ctx.WithIssue(issue.PermissionDeniedId)
	case errors.Is(err, ErrCopySourceMissing):
		ctx.WithIssue(issue.CopySourceMissingId)
	}
	return ctx.Wrap(err).BuildError()
}

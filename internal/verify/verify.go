// SPDX-License-Identifier: MPL-2.0

package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"

	"github.com/terraref/imgprov/internal/container"
	"github.com/terraref/imgprov/internal/pipeline"
	"github.com/terraref/imgprov/pkg/recipe"
)

// Check names, as reported in a Report.
const (
	// CheckUser compares the image config user with the recipe identity.
	CheckUser = "user"
	// CheckEffectiveUID runs id -u inside the image.
	CheckEffectiveUID = "effective-uid"
	// CheckPasswd looks the user up in /etc/passwd.
	CheckPasswd = "passwd"
	// CheckEntrypoint checks the entrypoint's owner and exec bit.
	CheckEntrypoint = "entrypoint"
	// CheckEntrypointConfig compares the image config entrypoint with the plan.
	CheckEntrypointConfig = "entrypoint-config"
	// CheckSearchPath checks that the search path was extended, not replaced.
	CheckSearchPath = "search-path"
	// CheckOwnership looks for files under the home not owned by the user.
	CheckOwnership = "ownership"
)

var (
	// ErrVerificationFailed is wrapped by Report.Err when any check failed.
	ErrVerificationFailed = errors.New("image verification failed")

	// errCommandFailed marks a probe command that ran but exited non-zero.
	errCommandFailed = errors.New("probe command failed")
)

type (
	// Expectation is what a correctly provisioned image looks like.
	Expectation struct {
		User       recipe.Identity
		Entrypoint string
		SearchPath pipeline.EnvStep
		// BaseImage is inspected for the search path value the image must keep.
		BaseImage string
	}

	// Check is the outcome of one property check.
	Check struct {
		Name   string
		Passed bool
		Detail string
	}

	// Report collects the checks run against one image.
	Report struct {
		Image  string
		Checks []Check
	}

	// Verifier runs checks through a container engine.
	Verifier struct {
		engine container.Engine
		logger *log.Logger
	}

	// Option configures a Verifier.
	Option func(*Verifier)

	// checkFunc runs a single check. A returned error aborts verification;
	// a failed property is reported through the Check.
	checkFunc func(ctx context.Context, image string, exp Expectation) (Check, error)
)

// WithLogger sets the logger used for per-check output.
func WithLogger(l *log.Logger) Option {
	return func(v *Verifier) {
		v.logger = l
	}
}

// New creates a Verifier.
func New(engine container.Engine, opts ...Option) *Verifier {
	v := &Verifier{
		engine: engine,
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "verify"}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// FromPlan derives the expectation of a finalized plan.
func FromPlan(p *pipeline.Plan) Expectation {
	return Expectation{
		User:       p.User(),
		Entrypoint: p.EntrypointPath(),
		SearchPath: p.SearchPath(),
		BaseImage:  p.Base(),
	}
}

// FromRecipe derives the expectation of a recipe without planning it.
func FromRecipe(r *recipe.Recipe) Expectation {
	return Expectation{
		User:       r.User,
		Entrypoint: r.EntrypointPath(),
		SearchPath: pipeline.EnvStep{Name: r.SearchPath.Name, Dir: r.SearchPathDir()},
		BaseImage:  r.BaseImage,
	}
}

// Verify runs every check against image. The error is non-nil only when a
// check could not be carried out; failed properties are in the report.
func (v *Verifier) Verify(ctx context.Context, image string, exp Expectation) (*Report, error) {
	info, err := v.engine.InspectImage(ctx, image)
	if err != nil {
		return nil, err
	}

	report := &Report{Image: image}
	report.add(checkUser(info, exp))
	report.add(checkEntrypointConfig(info, exp))
	report.add(v.checkSearchPath(ctx, info, exp))

	for _, run := range []checkFunc{v.checkEffectiveUID, v.checkPasswd, v.checkEntrypoint, v.checkOwnership} {
		c, err := run(ctx, image, exp)
		if err != nil {
			return nil, err
		}
		report.add(c)
	}

	for _, c := range report.Checks {
		if c.Passed {
			v.logger.Debug("check passed", "check", c.Name, "detail", c.Detail)
		} else {
			v.logger.Warn("check failed", "check", c.Name, "detail", c.Detail)
		}
	}
	return report, nil
}

func (r *Report) add(c Check) {
	r.Checks = append(r.Checks, c)
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failed returns the failed checks.
func (r *Report) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// Err returns nil when every check passed, otherwise an error wrapping
// ErrVerificationFailed and listing each failure.
func (r *Report) Err() error {
	var result *multierror.Error
	for _, c := range r.Failed() {
		result = multierror.Append(result, fmt.Errorf("%s: %s", c.Name, c.Detail))
	}
	if result == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrVerificationFailed, r.Image, result)
}

// exec runs name with args as the image's configured user and returns stdout.
func (v *Verifier) exec(ctx context.Context, image, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	result, err := v.engine.Run(ctx, container.RunOptions{
		Image:      image,
		Entrypoint: name,
		Command:    args,
		Remove:     true,
		Stdout:     &stdout,
		Stderr:     &stderr,
	})
	if err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", result.Error
	}
	if result.ExitCode != 0 {
		return stdout.String(), fmt.Errorf("%w: %s exited with %d: %s", errCommandFailed, name, result.ExitCode, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// probeResult turns a failed probe into a failed check. Other errors abort.
func probeResult(name string, err error) (Check, error) {
	if errors.Is(err, errCommandFailed) {
		return Check{Name: name, Detail: err.Error()}, nil
	}
	return Check{}, err
}

// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/terraref/imgprov/internal/pipeline"
	"github.com/terraref/imgprov/internal/verify"
	"github.com/terraref/imgprov/pkg/recipe"
)

// PlanKeyLabel is set on every provisioned image to the key of its plan.
const PlanKeyLabel = "io.imgprov.plan-key"

var (
	// ErrProvisioning is wrapped by every failure that stops a build:
	// package installation, missing copy sources, failed verification.
	ErrProvisioning = errors.New("provisioning failed")

	// ErrCopySourceMissing is returned when a copy source matches nothing in
	// the build context.
	ErrCopySourceMissing = fmt.Errorf("%w: copy source missing", ErrProvisioning)

	// ErrPermission is returned when a copy source cannot be read.
	ErrPermission = errors.New("permission denied")
)

type (
	// Provisioner builds verified images from recipes.
	Provisioner interface {
		// Provision builds, or finds in the cache, the image of req.Recipe.
		Provision(ctx context.Context, req Request) (*Result, error)
	}

	// Request names the recipe to provision and where its copy sources live.
	Request struct {
		Recipe *recipe.Recipe

		// ContextDir is the directory copy sources are resolved against.
		ContextDir string

		// Tag overrides the recipe's image tag.
		Tag string
	}

	// Result contains the output of a provisioning operation.
	Result struct {
		// ImageTag is the tag of the verified image.
		ImageTag string

		// PlanKey identifies the inputs the image was built from.
		PlanKey digest.Digest

		// Layers are the plan's layer descriptors in build order.
		Layers []pipeline.Layer

		// Cached is true when an existing image with the same plan key was reused.
		Cached bool

		// Findings are the recipe's unpinned packages.
		Findings []recipe.PinFinding

		// Verification is nil when the image was cached or verification was skipped.
		Verification *verify.Report
	}
)

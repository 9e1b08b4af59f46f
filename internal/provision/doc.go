// SPDX-License-Identifier: MPL-2.0

// Package provision builds extractor images from recipes.
//
// A recipe is resolved against a build context, planned into an ordered layer
// set, rendered to a Dockerfile and built by a container engine. The built
// image is verified before it receives its final tag, so a failed build or a
// failed check never leaves a partial image under that tag.
//
//	p := provision.NewLayerProvisioner(engine, provision.DefaultConfig())
//	result, err := p.Provision(ctx, provision.Request{Recipe: r, ContextDir: "."})
//	// result.ImageTag is the verified image
//
// Images are cached by plan key: when the target tag already carries the
// key of the current plan in its io.imgprov.plan-key label, nothing is built.
package provision

// SPDX-License-Identifier: MPL-2.0

// Package pipeline models image provisioning as an ordered sequence of steps,
// each producing one layer descriptor.
//
// Steps are added through two stage types. Privileged accepts the steps that
// need elevated rights (user creation, package installation, copies and
// permission changes). DropPrivileges seals it and returns an Unprivileged
// stage, which only accepts environment changes and the entrypoint. There is
// no way back: an Unprivileged value has no method that yields a Privileged
// one, so a finished Plan can never schedule elevated work after the drop.
//
//	p := pipeline.New("ubuntu:18.04")
//	_, _ = p.CreateUser(user)
//	_, _ = p.InstallOSPackages(pkgs, 3)
//	...
//	u, err := p.DropPrivileges()
//	_, _ = u.ExtendSearchPath("PYTHONPATH", "/home/extractor")
//	plan, err := u.Entrypoint("/home/extractor/bin2tif.py")
//
// Every layer carries a Key chaining the previous key with the step content,
// so identical inputs always produce identical keys.
package pipeline

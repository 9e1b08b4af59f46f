// SPDX-License-Identifier: MPL-2.0

// Package watch rebuilds on build context changes.
//
// A Watcher monitors a build context directory, plus any extra files such as a
// recipe kept outside of it, and calls OnChange once per burst of events after
// a quiet period. Paths the provisioner never copies (VCS metadata, bytecode
// caches, editor swap files) do not trigger a rebuild.
package watch

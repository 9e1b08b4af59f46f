// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/terraref/imgprov/cmd/imgprov"

func main() {
	cmd.Execute()
}

/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package main is the entry point for the hasura-stack CLI.
//
// hasura-stack assembles the resource graph for a GraphQL engine on a
// container service backed by a serverless database cluster, and writes it
// out for a deployment engine to provision.
//
// Commands: synth, lookup, validate, graph, schema.
package main

import (
	"fmt"
	"os"

	"github.com/chazu/hasura-stack/cmd/hasura-stack/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

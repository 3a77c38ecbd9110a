/*
Copyright The Charted Authors.
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

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"charted.dev/charted/internal/version"
)

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print the charted version",
	RunE:  versionCmd,
}

func init() {
	RootCommand.AddCommand(versionCommand)
}

func versionCmd(cmd *cobra.Command, _ []string) error {
	info := version.Get()
	fmt.Printf("charted %s (commit %q, tree %q) %s\n", info.Version, info.GitCommit, info.GitTreeState, info.GoVersion)
	return nil
}

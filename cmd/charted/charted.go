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

// charted is the multi-tenant Helm chart registry server.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"charted.dev/charted/pkg/config"
)

var globalUsage = `The charted server stores versioned Helm chart tarballs and
serves a Helm-compatible chart index for every user and organization.`

// RootCommand is the top-level command charted dispatches from.
var RootCommand = &cobra.Command{
	Use:          "charted",
	Short:        "A multi-tenant Helm chart registry.",
	Long:         globalUsage,
	SilenceUsage: true,
}

var configPath string

func init() {
	RootCommand.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the TOML configuration file")
}

// loadConfig reads and validates the configuration every subcommand
// starts from.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := RootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

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
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"charted.dev/charted/pkg/api"
	"charted.dev/charted/pkg/api/logger"
	"charted.dev/charted/pkg/registry"
	"charted.dev/charted/pkg/sessions"
)

var serverCommand = &cobra.Command{
	Use:   "server",
	Short: "Start the registry server",
	Long:  "This command starts the HTTP server, the database, the storage backend and the janitor.",
	RunE:  serverCmd,
}

var (
	serverHost string
	serverPort int
)

// addServerFlags binds the listener overrides; unset flags leave the
// configuration file values in place.
func addServerFlags(fs *flag.FlagSet) {
	fs.StringVar(&serverHost, "host", "", "bind host, overrides server.host")
	fs.IntVar(&serverPort, "port", 0, "bind port, overrides server.port")
}

func init() {
	addServerFlags(serverCommand.Flags())
	RootCommand.AddCommand(serverCommand)
}

func serverCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}
	logger.Setup(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}

	db, err := cfg.ConnectDatabase(logger.Debugf)
	if err != nil {
		return err
	}
	defer db.Close()

	backend, err := cfg.AuthBackend()
	if err != nil {
		return err
	}

	reg := registry.New(store, db, cfg.BaseURL, logger.Debugf)
	if cfg.Janitor.Enabled {
		janitor := registry.NewJanitor(reg, logger.Infof)
		if err := janitor.Start(cfg.Janitor.Schedule); err != nil {
			return err
		}
		defer janitor.Stop()
	}

	mgr := sessions.NewManager(db, backend, cfg.JWTSecretKey, logger.Debugf)
	server := api.NewServer(cfg, db, store, reg, mgr)
	if err := server.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
		return err
	}
	logger.Infof("shutting down")
	return nil
}

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
	"os"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"charted.dev/charted/pkg/api/logger"
	"charted.dev/charted/pkg/auth"
	"charted.dev/charted/pkg/registry"
)

var accountsCommand = &cobra.Command{
	Use:   "accounts",
	Short: "Manage registry accounts from the terminal",
}

var accountsCreateHelp = `This command registers an account directly against the database,
bypassing the registrations setting. Use it to create the first admin
account of an instance that has registrations disabled.`

var accountsCreateCommand = &cobra.Command{
	Use:   "create USERNAME EMAIL",
	Short: "Create an account",
	Long:  accountsCreateHelp,
	Args:  cobra.ExactArgs(2),
	RunE:  accountsCreateCmd,
}

var createAdmin bool

func init() {
	accountsCreateCommand.Flags().BoolVar(&createAdmin, "admin", false, "mark the account as an instance admin")
	accountsCommand.AddCommand(accountsCreateCommand)
	RootCommand.AddCommand(accountsCommand)
}

func accountsCreateCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Setup("none")

	password, err := promptPassword()
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	db, err := cfg.ConnectDatabase(nil)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := cfg.OpenStore(cmd.Context())
	if err != nil {
		return err
	}
	if err := store.Init(cmd.Context()); err != nil {
		return err
	}

	user, err := db.CreateUser(cmd.Context(), args[0], args[1], hash, createAdmin)
	if err != nil {
		return err
	}
	reg := registry.New(store, db, cfg.BaseURL, nil)
	if err := reg.CreateIndex(cmd.Context(), user.ID); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "created account %s (%s)\n", user.Username, user.ID)
	return nil
}

// promptPassword reads the password twice without echoing it.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stdout, "Password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stdout)
	if err != nil {
		return "", errors.Wrap(err, "unable to read password")
	}

	fmt.Fprint(os.Stdout, "Confirm password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stdout)
	if err != nil {
		return "", errors.Wrap(err, "unable to read password")
	}

	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

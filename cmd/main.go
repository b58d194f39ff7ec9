/*
Copyright 2025 Replyloop Authors.

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
	"log"
	"os"

	"github.com/replyloop/autopilot"
	"github.com/replyloop/autopilot/config"
	"github.com/replyloop/autopilot/database"
	"github.com/replyloop/autopilot/internal/notification"
	"github.com/replyloop/autopilot/platform"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CLI wraps the root Cobra command.
type CLI struct {
	cmd *cobra.Command
}

// engineInstance holds the delivery engine and its configuration, shared by
// the subcommands.
type engineInstance struct {
	engine *autopilot.Autopilot
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the delivery engine before
// any subcommand runs.
func preRun(app *engineInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("autopilot.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		engine, err := setupEngine(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.engine = engine
		app.cnf = cnf

		return nil
	}
}

// setupEngine wires the datasource and platform client into a new engine.
func setupEngine(cfg *config.Configuration) (*autopilot.Autopilot, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	client := platform.NewHTTPClient(cfg.Platform)
	engine, err := autopilot.NewAutopilot(db, client)
	if err != nil {
		return nil, fmt.Errorf("error creating engine: %v", err)
	}
	return engine, nil
}

// NewCLI builds the command-line interface with the server, workers and
// process subcommands.
func NewCLI() *CLI {
	var configFile string
	b := &engineInstance{}

	var rootCmd = &cobra.Command{
		Use:   "autopilot",
		Short: "Scheduled social-media delivery engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./autopilot.json", "Configuration file for the delivery engine")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(processCommands(b))

	return &CLI{cmd: rootCmd}
}

func (w CLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}

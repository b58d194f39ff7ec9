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
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/replyloop/autopilot"
	"github.com/replyloop/autopilot/api"
)

func initializeRouter(b *engineInstance) *gin.Engine {
	return api.NewAPI(b.engine).Router()
}

// serverCommands defines the "server" command: the HTTP API plus the
// internal scheduler, with graceful shutdown on SIGINT/SIGTERM.
func serverCommands(b *engineInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "start the autopilot server and scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			router := initializeRouter(b)
			server := &http.Server{
				Addr:    fmt.Sprintf(":%s", b.cnf.Server.Port),
				Handler: router,
			}

			scheduler := autopilot.NewScheduler(b.engine)
			if err := scheduler.Start(ctx); err != nil {
				log.Fatalf("could not start scheduler: %v", err)
			}

			go func() {
				log.Printf("Server running on port %s", b.cnf.Server.Port)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("could not start server: %v", err)
				}
			}()

			<-ctx.Done()
			log.Println("Shutting down...")

			scheduler.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("server shutdown: %v", err)
			}
		},
	}

	return cmd
}

// processCommands defines the "process" command: run one processing pass and
// print the batch summary. Useful for cron-style deployments without a
// long-running scheduler.
func processCommands(b *engineInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "run one delivery pass and exit",
		Run: func(cmd *cobra.Command, args []string) {
			result, err := b.engine.RunOnce(context.Background())
			if err != nil {
				log.Printf("processing pass finished with error: %v", err)
			}

			out, _ := json.Marshal(result)
			fmt.Println(string(out))
			if err != nil {
				os.Exit(1)
			}
		},
	}

	return cmd
}

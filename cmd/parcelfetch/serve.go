package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"parcelfetch/internal/app"
	"parcelfetch/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long:  "Serve the parse, run history and property document API. When PARCELFETCH_JWT_SECRET is set every route except health requires a bearer token (see parcelfetch token).",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withRuntime(func(rt *app.Runtime) error {
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), Logger: rt.Logger}
				handler, err := server.New(server.Config{Runtime: rt, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				mode := "open"
				if authCfg.JWTSecret != "" {
					mode = "bearer auth"
				}
				fmt.Printf("Serving parcelfetch API on http://%s%s (%s; OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, mode, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var scopes []string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("PARCELFETCH_JWT_SECRET is required to sign tokens")
			}
			tok, err := server.SignToken(secret, subject, scopes)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"subject": subject, "token": tok})
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "token scope (repeatable)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

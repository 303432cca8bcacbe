// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/microsoft/mergebot/githubutil"
	"github.com/microsoft/mergebot/mbconfig"
	"github.com/microsoft/mergebot/subcmd"
	"github.com/microsoft/mergebot/webhook"
	"golang.org/x/sync/errgroup"
)

func init() {
	subcommands = append(subcommands, subcmd.Func{
		FuncName:    "serve",
		FuncSummary: "Run the webhook HTTP server and the store-reconciliation loop.",
		FuncHandle:  handleServe,
	})
}

func handleServe(p subcmd.ParseFunc) error {
	flags := mbconfig.BindFlags()
	auth := githubutil.BindGitHubAuthFlags("")
	webhookSecret := flag.String("webhook-secret", "", "[Required] Shared secret used to validate GitHub webhook deliveries.")
	reconcileInterval := flag.Duration("reconcile-interval", 10*time.Minute, "How often to re-evaluate every stored merge request, in case a webhook delivery was missed.")

	if err := p(); err != nil {
		return err
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, auth)
	if err != nil {
		return err
	}
	defer a.Store.Close()

	server := &webhook.Server{Secret: []byte(*webhookSecret), Dispatcher: a.Dispatcher, Engine: a.Engine}
	router := mux.NewRouter()
	server.RegisterRoutes(router)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	// On startup, catch up on anything a prior process left mid-merge.
	if err := a.Engine.ResumeAll(ctx); err != nil {
		log.Printf("resuming stored merge requests at startup: %v", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Printf("mergebot listening on %s", cfg.ListenAddr)
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.ListenAndServe() }()
		select {
		case <-egCtx.Done():
			return httpServer.Shutdown(context.Background())
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	})
	eg.Go(func() error {
		ticker := time.NewTicker(*reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-egCtx.Done():
				return nil
			case <-ticker.C:
				if err := a.Engine.ResumeAll(egCtx); err != nil {
					log.Printf("reconciliation pass: %v", err)
				}
			}
		}
	})
	return eg.Wait()
}

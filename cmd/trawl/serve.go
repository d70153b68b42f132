package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/trawl/pkg/scanner"
	"github.com/praetorian-inc/trawl/pkg/serve"
	"github.com/praetorian-inc/trawl/pkg/store"
)

var (
	serveRules     ruleFlags
	serveStorePath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as an NDJSON streaming server",
	Long: `Run trawl as a long-lived server that reads one JSON request per line on
stdin and writes one JSON response per line on stdout.

Rules given with --rules, --builtin or the config file are compiled at
startup; more can be compiled with "compile" requests. The process runs
until stdin closes, a "close" request arrives or SIGTERM is received.`,
	RunE: runServe,
}

func init() {
	serveRules.register(serveCmd)
	serveCmd.Flags().StringVar(&serveStorePath, "store", store.MemoryPath, `Result store: SQLite file, postgres:// URL, or ":memory:"`)
}

func runServe(cmd *cobra.Command, args []string) error {
	rules, err := loadRules(serveRules)
	if err != nil {
		return err
	}
	defer rules.Destroy()

	s, err := store.New(store.Config{Path: serveStorePath})
	if err != nil {
		return err
	}
	defer s.Close()

	core, err := scanner.NewCore(rules, scanner.Config{Store: s})
	if err != nil {
		return err
	}
	defer core.Close()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	srv := serve.NewServer(core, cmd.InOrStdin(), cmd.OutOrStdout())
	return srv.Run(ctx)
}

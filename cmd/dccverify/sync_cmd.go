package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"dccgate/internal/config"
	"dccgate/internal/infra/db"
	"dccgate/internal/infra/lock"
	"dccgate/internal/infra/revmem"
	"dccgate/internal/infra/revocationclient"
	"dccgate/internal/usecase"
)

type syncOutput struct {
	Result usecase.RevocationSyncResult `json:"result"`
	Error  string                       `json:"error,omitempty"`
	Lists  int                          `json:"lists"`
}

func runSync(args []string) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var revocationURL string
	var dsn string
	var concurrency int
	var timeout time.Duration
	var outPath string

	fs.StringVar(&revocationURL, "revocation-url", "", "revocation list service base url")
	fs.StringVar(&dsn, "dsn", "", "postgres dsn (default in-memory)")
	fs.IntVar(&concurrency, "concurrency", 4, "lists fetched in parallel")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "http timeout")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if revocationURL == "" {
		fmt.Fprintln(os.Stderr, "sync requires --revocation-url")
		return exitError
	}

	logger := cliLogger()
	store, err := db.NewStore(config.Config{PostgresDSN: dsn}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init store: %v\n", err)
		return exitError
	}
	defer store.Close()

	var revocations usecase.RevocationStore = revmem.New()
	if store.Enabled() {
		revocations = db.NewRevocationRepository(store.DB)
	}

	ctx := context.Background()
	uc := &usecase.RevocationSync{
		Source:      revocationclient.New(revocationURL, timeout),
		Store:       revocations,
		Locker:      lock.NewMemoryLocker(),
		Concurrency: concurrency,
		Logger:      logger,
	}
	result, syncErr := uc.Execute(ctx)
	out := syncOutput{Result: result}
	if syncErr != nil {
		out.Error = syncErr.Error()
	}
	entries, err := revocations.ListEntries(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list entries: %v\n", err)
		return exitError
	}
	out.Lists = len(entries)

	code := exitOK
	if syncErr != nil {
		code = exitInvalid
	}
	return emitJSON(outPath, out, code)
}

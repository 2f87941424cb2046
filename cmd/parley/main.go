// parley - a provider-pluggable conversational assistant for the terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jeranaias/parley/internal/archive"
	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/session"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   = flag.String("config", "", "path to config file (default ~/.parley/config.toml)")
		providerName = flag.String("provider", "", "provider to use (rule-based, remote-api, local-model)")
		quiet        = flag.Bool("quiet", false, "suppress diagnostic logging")
		version      = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("parley %s (%s)\n", Version, GitCommit)
		return nil
	}
	if *quiet {
		log.SetOutput(io.Discard)
	}

	path := *configPath
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if *providerName != "" {
		cfg.Provider = *providerName
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	reg := provider.NewRegistry(cfg.RegistryConfig())
	defer reg.Close()

	budget := model.Budget{MaxTurns: cfg.History.MaxTurns, MaxBytes: cfg.History.MaxBytes}
	sess, err := session.New(reg, cfg.Provider, budget)
	if err != nil {
		return err
	}
	defer sess.Close()

	if cfg.ArchivePath != "" {
		store, err := archive.Open(cfg.ArchivePath)
		if err != nil {
			return err
		}
		defer store.Close()
		sess.AttachArchive(store)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("parley %s - chatting with %s (type /help for commands)\n", Version, cfg.Provider)
	return repl(ctx, sess)
}

// =============================================================================
// REPL
// =============================================================================

func repl(ctx context.Context, sess *session.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := handleCommand(sess, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			if done {
				return nil
			}
			continue
		}

		if err := exchange(ctx, sess, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

// exchange sends one message and prints the reply as it streams.
func exchange(ctx context.Context, sess *session.Session, message string) error {
	reply, err := sess.Send(ctx, message)
	if err != nil {
		return err
	}

	for {
		c, err := reply.Next(ctx)
		if err != nil {
			fmt.Println()
			return err
		}
		if c.Final {
			fmt.Println()
			return nil
		}
		fmt.Print(c.Text)
	}
}

// handleCommand processes a slash command. It returns true when the REPL
// should exit.
func handleCommand(sess *session.Session, line string) (bool, error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/exit", "/quit":
		return true, nil

	case "/clear":
		sess.Clear()
		fmt.Println("history cleared")

	case "/history":
		turns := sess.History()
		if len(turns) == 0 {
			fmt.Println("history is empty")
			break
		}
		for _, t := range turns {
			fmt.Printf("%s: %s\n", t.Role.DisplayName(), t.Preview(100))
		}

	case "/save":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /save <path>")
		}
		if err := sess.Save(args[0]); err != nil {
			return false, err
		}
		fmt.Printf("saved to %s\n", args[0])

	case "/load":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /load <path>")
		}
		if err := sess.Load(args[0]); err != nil {
			return false, err
		}
		fmt.Printf("loaded %d turns\n", len(sess.History()))

	case "/export":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /export <path>")
		}
		if err := sess.ExportText(args[0]); err != nil {
			return false, err
		}
		fmt.Printf("exported to %s\n", args[0])

	case "/archive":
		id, err := sess.ArchiveConversation()
		if err != nil {
			return false, err
		}
		fmt.Printf("archived as %s\n", id)

	case "/provider":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /provider <name>")
		}
		if err := sess.SwitchProvider(args[0]); err != nil {
			return false, err
		}
		fmt.Printf("switched to %s\n", args[0])

	case "/config":
		cfg := sess.CurrentConfig()
		fmt.Printf("provider:  %s\n", cfg.Provider)
		fmt.Printf("streaming: %v\n", cfg.Streaming)
		if cfg.RateCapacity > 0 {
			fmt.Printf("rate:      %d calls per %s\n", cfg.RateCapacity, cfg.RateWindow)
		} else {
			fmt.Printf("rate:      unlimited\n")
		}
		fmt.Printf("history:   %d turns / %d bytes max\n", cfg.MaxTurns, cfg.MaxBytes)

	case "/help":
		fmt.Print(`commands:
  /exit, /quit      leave parley
  /clear            discard the conversation history
  /history          show the conversation so far
  /save <path>      save the conversation as a transcript
  /load <path>      replace the conversation from a transcript
  /export <path>    write a human-readable transcript
  /archive          store the conversation in the archive
  /provider <name>  switch provider
  /config           show the active configuration
  /help             this text
`)

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/sushant-115/mmextents/config"
	"github.com/sushant-115/mmextents/core/addressspace"
	"github.com/sushant-115/mmextents/core/extents"
	"github.com/sushant-115/mmextents/core/faulttrace"
	"github.com/sushant-115/mmextents/pkg/logger"
	"github.com/sushant-115/mmextents/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	historyFile := flag.String("history", filepath.Join(os.TempDir(), "extentctl.history"), "readline history file")
	script := flag.String("script", "", "run commands from this file instead of the interactive shell")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zlogger.Sync()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		zlogger.Fatal("failed to initialise telemetry", zap.Error(err))
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			zlogger.Error("telemetry shutdown failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := addressspace.NewManager(tel, zlogger, func() []extents.Option {
		return cfg.Extents.IndexOptions()
	})
	defer func() {
		if err := manager.Close(); err != nil {
			zlogger.Error("failed to close address spaces", zap.Error(err))
		}
	}()

	current, err := manager.Create(ctx, faulttrace.DefaultSpace)
	if err != nil {
		zlogger.Fatal("failed to create default address space", zap.Error(err))
	}

	sh := &shell{
		manager:  manager,
		replayer: faulttrace.NewReplayer(manager, cfg.Replay.RatePerSecond, cfg.Replay.Burst, zlogger),
		current:  current,
		out:      os.Stdout,
	}

	if *script != "" {
		if err := runScript(ctx, sh, *script); err != nil {
			zlogger.Error("script failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}
	if err := runInteractive(ctx, sh, *historyFile); err != nil {
		zlogger.Error("shell failed", zap.Error(err))
	}
}

func runInteractive(ctx context.Context, sh *shell, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "extents> ",
		HistoryFile:     historyFile,
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	sh.out = rl.Stdout()

	fmt.Fprintln(sh.out, "mmextents shell, type 'help' for commands")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := sh.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
		if sh.current != nil {
			rl.SetPrompt(fmt.Sprintf("extents(%s)> ", sh.current.Label()))
		}
	}
}

// runScript executes a command file line by line and stops at the first
// failing command.
func runScript(ctx context.Context, sh *shell, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if err := sh.exec(ctx, sc.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	return sc.Err()
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("new"),
		readline.PcItem("use"),
		readline.PcItem("spaces"),
		readline.PcItem("destroy"),
		readline.PcItem("record"),
		readline.PcItem("floor"),
		readline.PcItem("ceiling"),
		readline.PcItem("lookup"),
		readline.PcItem("remove"),
		readline.PcItem("count"),
		readline.PcItem("dump"),
		readline.PcItem("replay"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

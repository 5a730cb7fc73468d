// Command fwd wraps a single child command on a vibetunnel-managed PTY:
// "fwd [--monitor-only] -- <cmd> [args...]". It creates a session named
// fwd_<basename>_<unix>, prints the session id and the stream-out/stdin/
// control paths, then either streams the PTY interactively or monitors
// until the child exits, mirroring the child's exit code.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"vibetunnel/internal/bus"
	"vibetunnel/internal/config"
	"vibetunnel/internal/session"
)

func main() {
	if err := newFwdCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fwd:", err)
		os.Exit(1)
	}
}

func newFwdCmd() *cobra.Command {
	var monitorOnly bool

	cmd := &cobra.Command{
		Use:                "fwd [--monitor-only] -- <cmd> [args...]",
		Short:              "Spawn a command on a vibetunnel-managed PTY and stream or monitor it",
		DisableFlagsInUseLine: true,
		Args:               cobra.MinimumNArgs(1),
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFwd(args, monitorOnly)
		},
	}
	cmd.Flags().BoolVar(&monitorOnly, "monitor-only", false, "monitor the session without forwarding this terminal's stdin")
	return cmd
}

func runFwd(command []string, monitorOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mgr := session.New(cfg.ControlDir, cfg.DefaultCols, cfg.DefaultRows, cfg.NoSpawn, cfg.DoNotAllowColumnSet, nil)

	cols, rows := cfg.DefaultCols, cfg.DefaultRows
	if isatty.IsTerminal(os.Stdout.Fd()) {
		if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			cols, rows = w, h
		}
	}

	env := os.Environ()
	env = append(env, terminalColorEnv()...)

	name := fmt.Sprintf("fwd_%s_%d", filepath.Base(command[0]), time.Now().Unix())
	info, err := mgr.Create(session.CreateOptions{
		Command:    command,
		WorkingDir: mustGetwd(),
		Env:        env,
		Cols:       cols,
		Rows:       rows,
		Name:       name,
		Term:       os.Getenv("TERM"),
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	dir := info.ControlPath
	fmt.Printf("session %s\n", info.ID)
	fmt.Printf("stream-out %s\n", session.StreamPath(dir))
	fmt.Printf("stdin %s\n", session.StdinPath(dir))
	fmt.Printf("control %s\n", session.ControlPath(dir))

	if monitorOnly {
		return monitor(mgr, info.ID)
	}
	return streamInteractive(mgr, cfg, info.ID)
}

// monitor polls session state until it exits, returning the child's
// exit code.
func monitor(mgr *session.Manager, id string) error {
	for {
		info, err := mgr.Get(id)
		if err != nil {
			return err
		}
		if info.Status == session.StatusExited {
			return exitWithCode(info.ExitCode)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// streamInteractive forwards this process's stdin to the session,
// mirrors the session's live output back to this terminal through a
// Subscription Bus output subscription, and tracks terminal resizes
// until the child exits.
func streamInteractive(mgr *session.Manager, cfg *config.Config, id string) error {
	fd := int(os.Stdin.Fd())
	raw := isatty.IsTerminal(uintptr(fd))
	var restore *term.State
	if raw {
		var err error
		restore, err = term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("set raw mode: %w", err)
		}
		defer term.Restore(fd, restore)
	}

	b := bus.New(bus.Config{
		ControlDir:             cfg.ControlDir,
		DefaultCols:            cfg.DefaultCols,
		DefaultRows:            cfg.DefaultRows,
		ScrollbackRows:         cfg.ScrollbackRows,
		NotificationDebounceMs: cfg.NotificationDebounceMs,
		SessionIdleTimeout:     cfg.SessionIdleTimeout,
	}, nil)
	defer b.Close()

	unsub, err := b.SubscribeOutput(id, func(chunk []byte) { os.Stdout.Write(chunk) })
	if err != nil {
		return fmt.Errorf("subscribe to output: %w", err)
	}
	defer unsub()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				mgr.SendInput(id, buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	if raw {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGWINCH)
		go watchResize(mgr, id, sigCh)
	}

	return monitor(mgr, id)
}

// watchResize applies this terminal's dimensions to the session on
// every SIGWINCH, keeping the child's PTY in sync with the local window.
func watchResize(mgr *session.Manager, id string, sigCh <-chan os.Signal) {
	for range sigCh {
		if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			mgr.Resize(id, w, h)
		}
	}
}

func exitWithCode(code *int) error {
	if code == nil || *code == 0 {
		return nil
	}
	os.Exit(*code)
	return nil
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

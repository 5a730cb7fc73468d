package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"vibetunnel/internal/bus"
)

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <id>",
		Short: "Attach to a running session: forward stdin, mirror live output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := loadManager()
			if err != nil {
				return err
			}
			id := args[0]
			if _, err := mgr.Get(id); err != nil {
				return err
			}

			fd := int(os.Stdin.Fd())
			raw := isatty.IsTerminal(uintptr(fd))
			if raw {
				restore, err := term.MakeRaw(fd)
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
				return err
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
				go func() {
					for range sigCh {
						if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
							mgr.Resize(id, w, h)
						}
					}
				}()
			}

			return waitForExit(mgr, id)
		},
	}
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"vibetunnel/internal/session"
)

// waitForExit polls id's status until it exits, then returns.
func waitForExit(mgr *session.Manager, id string) error {
	for {
		info, err := mgr.Get(id)
		if err != nil {
			return err
		}
		if info.Status == session.StatusExited {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func newCreateCmd() *cobra.Command {
	var name, workdir string
	var cols, rows int

	cmd := &cobra.Command{
		Use:   "create -- <cmd> [args...]",
		Short: "Create a new PTY session and print its id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := loadManager()
			if err != nil {
				return err
			}
			if workdir == "" {
				workdir = mustGetwd()
			}
			if cols == 0 {
				cols = cfg.DefaultCols
			}
			if rows == 0 {
				rows = cfg.DefaultRows
			}
			info, err := mgr.Create(session.CreateOptions{
				Command:    args,
				WorkingDir: workdir,
				Cols:       cols,
				Rows:       rows,
				Name:       name,
				Term:       os.Getenv("TERM"),
			})
			if err != nil {
				return err
			}
			fmt.Println(info.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "human-readable session name")
	cmd.Flags().StringVar(&workdir, "workdir", "", "working directory (default: current directory)")
	cmd.Flags().IntVar(&cols, "cols", 0, "PTY columns (default: config default)")
	cmd.Flags().IntVar(&rows, "rows", 0, "PTY rows (default: config default)")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := loadManager()
			if err != nil {
				return err
			}
			infos, err := mgr.List()
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("No sessions.")
				return nil
			}
			out := termenv.NewOutput(os.Stdout)
			for _, info := range infos {
				printSessionLine(out, info)
			}
			return nil
		},
	}
}

func printSessionLine(out *termenv.Output, info session.Info) {
	var symbol termenv.Style
	switch info.Status {
	case session.StatusRunning:
		symbol = out.String("●").Foreground(out.Color("2"))
	case session.StatusStarting:
		symbol = out.String("○").Foreground(out.Color("3"))
	case session.StatusExited:
		symbol = out.String("●").Foreground(out.Color("1"))
	default:
		symbol = out.String("○")
	}
	age := time.Since(info.StartedAt).Round(time.Second)
	fmt.Printf("%s %s  %s  %dx%d  up %s\n", symbol, info.ID, info.Name, info.Cols, info.Rows, age)
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <id> <text>",
		Short: "Send raw input to a session's stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := loadManager()
			if err != nil {
				return err
			}
			return mgr.SendInput(args[0], []byte(args[1]))
		},
	}
}

func newKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key <id> <key-name>",
		Short: "Send a named special key (e.g. arrow_up, enter, escape)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := loadManager()
			if err != nil {
				return err
			}
			return mgr.SendKey(args[0], args[1])
		},
	}
}

func newResizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resize <id> <cols> <rows>",
		Short: "Resize a session's PTY",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := loadManager()
			if err != nil {
				return err
			}
			cols, rows, err := parseDims(args[1], args[2])
			if err != nil {
				return err
			}
			return mgr.Resize(args[0], cols, rows)
		},
	}
}

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <id>",
		Short: "Send SIGTERM (escalating to SIGKILL) to a session's child",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := loadManager()
			if err != nil {
				return err
			}
			return mgr.Kill(args[0])
		},
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <id>",
		Short: "Remove an exited session's control directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := loadManager()
			if err != nil {
				return err
			}
			return mgr.Cleanup(args[0])
		},
	}
}

func newCleanupExitedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-exited",
		Short: "Remove every exited session's control directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := loadManager()
			if err != nil {
				return err
			}
			n, err := mgr.CleanupExited()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d session(s)\n", n)
			return nil
		},
	}
}

func newRegisterExternalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register-external <id>",
		Short: "Adopt a session directory created by the fwd helper",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := loadManager()
			if err != nil {
				return err
			}
			info, err := mgr.RegisterExternal(args[0])
			if err != nil {
				return err
			}
			fmt.Println(info.ID)
			return nil
		},
	}
}

func parseDims(colsStr, rowsStr string) (int, int, error) {
	var cols, rows int
	if _, err := fmt.Sscanf(colsStr, "%d", &cols); err != nil {
		return 0, 0, fmt.Errorf("invalid cols %q", colsStr)
	}
	if _, err := fmt.Sscanf(rowsStr, "%d", &rows); err != nil {
		return 0, 0, fmt.Errorf("invalid rows %q", rowsStr)
	}
	return cols, rows, nil
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

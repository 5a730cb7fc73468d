// Command vibetunnel is the session-management CLI: create, list, send
// input/keys to, resize, kill, and clean up PTY sessions, plus attach to
// a running session's live output.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vibetunnel:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vibetunnel",
		Short: "Manage and observe PTY sessions",
	}
	root.AddCommand(
		newCreateCmd(),
		newListCmd(),
		newSendCmd(),
		newKeyCmd(),
		newResizeCmd(),
		newKillCmd(),
		newCleanupCmd(),
		newCleanupExitedCmd(),
		newRegisterExternalCmd(),
		newAttachCmd(),
	)
	return root
}

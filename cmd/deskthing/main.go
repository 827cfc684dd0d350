package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╔╦╗┌─┐┌─┐┬┌─╔╦╗┬ ┬┬┌┐┌┌─┐
   ║║├┤ └─┐├┴┐ ║ ├─┤│││││ ┬
  ═╩╝└─┘└─┘┴ ┴ ╩ ┴ ┴┴┘└┘└─┘
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "deskthing",
		Short: "Developer tooling for DeskThing apps",
		Long: `DeskThing CLI runs your app against a local emulator.

The emulator stands in for a real DeskThing server and client:

  • WebSocket message bus on the link port
  • App process with hot restart on source changes
  • Simulated client with settings, music, and time feeds
  • Dev HTTP server with OAuth callback capture and a fetch proxy`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		devCmd(),
		packageCmd(),
		updateCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// printBanner prints the DeskThing ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}

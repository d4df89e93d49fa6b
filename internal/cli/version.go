package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if versionShort {
			fmt.Fprintln(cmd.OutOrStdout(), resolvedVersion())
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recall %s (commit: %s, built: %s, %s)\n",
			resolvedVersion(), Commit, BuildDate, runtime.Version())
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version")
}

// resolvedVersion prefers the ldflags version, then the module version
// recorded by `go install`.
func resolvedVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return Version
}

// VersionString is the version reported by the health endpoint.
func VersionString() string {
	return fmt.Sprintf("%s (%s)", resolvedVersion(), Commit)
}

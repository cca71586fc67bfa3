// Package cli wires the merklediff command line: flags and config, logging,
// the peer connection and the report on stdout.
package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Option adjusts the environment the commands run in.
type Option func(*env)

type env struct {
	fs afero.Fs
}

// WithFs replaces the OS filesystem files are read from.
func WithFs(fs afero.Fs) Option { return func(e *env) { e.fs = fs } }

// NewRootCommand creates the root cobra command
func NewRootCommand(version, commit, date string, opts ...Option) *cobra.Command {
	e := &env{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(e)
	}

	rootCmd := &cobra.Command{
		Use:   "merklediff [flags] FILE",
		Short: "Find the bytes that differ between two copies of a file",
		Long: `merklediff compares a local file with a peer's copy over TCP without
sending either file. Both sides hash their copy into a merkle tree and
exchange only the digests of subtrees that disagree, first per block and
then per byte inside every differing block.

One side runs with --server ADDRESS:PORT, the other with --client
ADDRESS:PORT, both with the same block size and digest. Each differing
byte is printed as OFFSET=[HEXBYTE] with the local value.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd, e, args[0])
		},
	}

	addLogFlags(rootCmd.PersistentFlags())
	addCompareFlags(rootCmd.Flags())
	rootCmd.MarkFlagsMutuallyExclusive("server", "client")

	rootCmd.AddCommand(newInspectCommand(e))
	rootCmd.AddCommand(NewVersionCommand(version, commit, date))
	return rootCmd
}

func addLogFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (yaml, toml or json)")
	fs.BoolP("verbose", "v", false, "debug logging on stderr")
	fs.String("log-format", "console", "log encoding: console or json")
}

// addCompareFlags registers the flags merged into config.Config by loadConfig.
func addCompareFlags(fs *pflag.FlagSet) {
	fs.StringP("server", "s", "", "listen on ADDRESS:PORT and wait for the peer")
	fs.StringP("client", "c", "", "connect to the peer at ADDRESS:PORT")
	fs.Int64P("block-size", "b", 1<<20, "coarse block size in bytes")
	fs.String("digest", "sha256", "digest: sha256, blake3 or sha3-256")
	fs.Bool("coarse-only", false, "report differing block indices only")
	fs.Bool("exit-code", false, "exit with 1 when the files differ")
	fs.Duration("dial-timeout", defaultDialTimeout, "how long the client keeps retrying to connect")
	fs.Int("workers", runtime.NumCPU(), "goroutines hashing blocks")
	fs.Bool("progress", false, "progress bar on stderr while hashing")
	fs.String("metrics-addr", "", "serve prometheus metrics on HOST:PORT/metrics")
}

func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "merklediff %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/juanpablocruz/merklediff/pkg/digest"
	"github.com/juanpablocruz/merklediff/pkg/merkle"
	"github.com/juanpablocruz/merklediff/pkg/source"
)

// newInspectCommand prints the tree a comparison would build for a file.
func newInspectCommand(e *env) *cobra.Command {
	var (
		blockSize int64
		digestArg string
		leaf      int
		perLevel  int
	)
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the merkle tree of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := digest.ByName(digestArg)
			if err != nil {
				return err
			}
			src, err := source.Open(e.fs, args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			tree, err := merkle.Build(cmd.Context(), src, blockSize, d)
			if err != nil {
				return err
			}
			v := merkle.NewVisualizer(tree)
			v.MaxPerLevel = perLevel

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "File: %s\n\n", src.Name())
			fmt.Fprintln(out, v.GetTreeStats())
			fmt.Fprint(out, v.VisualizeTree())
			if leaf >= 0 {
				fmt.Fprintln(out)
				fmt.Fprint(out, v.VisualizePath(leaf))
			}
			return nil
		},
	}
	cmd.Flags().Int64VarP(&blockSize, "block-size", "b", 1<<20, "block size in bytes")
	cmd.Flags().StringVar(&digestArg, "digest", digest.SHA256, "digest: sha256, blake3 or sha3-256")
	cmd.Flags().IntVar(&leaf, "block", -1, "also print the path from the root to this block")
	cmd.Flags().IntVar(&perLevel, "max-per-level", 8, "hashes printed per level, 0 for all")
	return cmd
}

package cli

import (
	"bufio"
	"fmt"
	"io"

	"github.com/juanpablocruz/merklediff/pkg/syncproto"
)

// WriteResult prints one OFFSET=[HEXBYTE] line per differing byte, or one
// block index per line when coarseOnly is set. Identical files print
// nothing.
func WriteResult(w io.Writer, res syncproto.Result, coarseOnly bool) error {
	bw := bufio.NewWriter(w)
	if coarseOnly {
		for _, b := range res.Blocks {
			fmt.Fprintf(bw, "%d\n", b)
		}
	} else {
		for _, m := range res.Mismatches {
			fmt.Fprintf(bw, "%d=[%02x]\n", m.Offset, m.Value)
		}
	}
	return bw.Flush()
}

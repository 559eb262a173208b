// Command pooldump is a thin, non-core driver over package pool: it
// builds a Pool, runs a scripted sequence of allocate/free operations,
// and prints the resulting Dump(). CLI drivers are an external
// collaborator, not part of the free-list engine; this binary never
// reaches into pool internals it doesn't already expose publicly.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"storagepool/pool"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var bytes int
	var blockSize int
	var script []string

	cmd := &cobra.Command{
		Use:   "pooldump",
		Short: "Build a storage pool, run a scripted allocate/free sequence, and dump its state",
		Long: `pooldump constructs a pool.Pool of the requested capacity and block size,
then replays a script of "alloc:<n>" and "free:<slot>" steps against it,
printing the pool's Dump() line after each one. A failed alloc or an
invalid free prints only an error line, with no Dump() line.

Example:
  pooldump --bytes 4096 --block-size 24 --step alloc:64 --step alloc:64 --step free:0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), bytes, blockSize, script)
		},
	}

	cmd.Flags().IntVar(&bytes, "bytes", 1024, "requested pool capacity in bytes")
	cmd.Flags().IntVar(&blockSize, "block-size", pool.DefaultBlockSize, "block size in bytes")
	cmd.Flags().StringArrayVar(&script, "step", nil, `a step to replay, "alloc:<n>" or "free:<slot>" (slot indexes prior successful allocs)`)

	return cmd
}

func run(out io.Writer, bytes, blockSize int, script []string) error {
	p, err := pool.New(bytes, blockSize)
	if err != nil {
		return err
	}

	var live []pool.Addr

	for _, step := range script {
		kind, arg, err := splitStep(step)
		if err != nil {
			return err
		}

		switch kind {
		case "alloc":
			addr, err := p.Allocate(arg)
			if err != nil {
				fmt.Fprintf(out, "alloc %d: %v\n", arg, err)
				continue
			}
			live = append(live, addr)
			fmt.Fprintf(out, "alloc %d -> slot %d\n", arg, len(live)-1)

		case "free":
			if arg < 0 || arg >= len(live) || live[arg] == -1 {
				fmt.Fprintf(out, "free slot %d: invalid or already freed\n", arg)
				continue
			}
			p.Free(live[arg])
			live[arg] = -1
			fmt.Fprintf(out, "free slot %d\n", arg)
		}

		fmt.Fprintln(out, p.Dump().String())
	}

	if len(script) == 0 {
		fmt.Fprintln(out, p.Dump().String())
	}

	return nil
}

func splitStep(step string) (kind string, arg int, err error) {
	for i := 0; i < len(step); i++ {
		if step[i] == ':' {
			kind = step[:i]
			_, err = fmt.Sscanf(step[i+1:], "%d", &arg)
			return kind, arg, err
		}
	}
	return "", 0, fmt.Errorf("pooldump: malformed step %q, want kind:arg", step)
}

package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/INLOpen/nexuswal/engine"
	"github.com/INLOpen/nexuswal/wal"
	"github.com/spf13/cobra"
)

var segmentsCmd = &cobra.Command{
	Use:   "segments <dir>",
	Short: "List the segment files of WAL directories",
	Long: `List segment files with their version, start search index, size and header.

<dir> is either a single node directory or an engine data directory, in which
case every region under wal/ is listed.

Examples:
  walctl segments ./data
  walctl segments ./data/wal/default`,
	Args: cobra.ExactArgs(1),
	RunE: runSegments,
}

func runSegments(cmd *cobra.Command, args []string) error {
	dirs, err := nodeDirs(args[0])
	if err != nil {
		return err
	}
	return printSegments(cmd.OutOrStdout(), dirs)
}

// nodeDirs resolves root to the node directories to list.
func nodeDirs(root string) ([]string, error) {
	walRoot := filepath.Join(root, engine.WALDirName)
	entries, err := os.ReadDir(walRoot)
	if os.IsNotExist(err) {
		return []string{root}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", walRoot, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(walRoot, e.Name()))
		}
	}
	return dirs, nil
}

func printSegments(out io.Writer, dirs []string) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tVERSION\tSTART INDEX\tSIZE\tCOMPRESSION\tCREATED")
	for _, dir := range dirs {
		segments, err := wal.ListSegments(dir)
		if err != nil {
			return err
		}
		for _, s := range segments {
			compression, created := "?", "?"
			if h, err := wal.ReadSegmentHeader(s.Path); err == nil {
				compression = h.CompressorType.String()
				created = time.Unix(0, h.CreatedAt).UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n",
				filepath.Base(dir), s.Version, s.StartSearchIndex, s.Size, compression, created)
		}
	}
	return tw.Flush()
}

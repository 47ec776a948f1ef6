package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/install"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatusCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what is installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := loadApp(ctx, global, false)
			if err != nil {
				return err
			}
			defer a.close()

			st, err := a.orch.Status(ctx)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func printStatus(w io.Writer, st *install.Status) {
	fmt.Fprintln(w, "Host:")
	fmt.Fprintf(w, "  version:  %s\n", orDash(st.HostVersion))
	fmt.Fprintf(w, "  archive:  %s\n", describeFile(st.Paths.TargetArchive))
	fmt.Fprintf(w, "  sha256:   %s\n", orDash(st.ArchiveChecksum))
	if st.BackupPresent {
		fmt.Fprintf(w, "  backup:   %s\n", describeFile(st.Paths.BackupArchive))
	} else {
		fmt.Fprintln(w, "  backup:   none")
	}
	fmt.Fprintln(w)

	if !st.Mod.Installed {
		fmt.Fprintln(w, "No mod is installed.")
		return
	}

	fmt.Fprintln(w, "Mod:")
	fmt.Fprintf(w, "  name:     %s\n", orDash(st.Mod.Name))
	fmt.Fprintf(w, "  version:  %s\n", orDash(st.Mod.Version))
	fmt.Fprintf(w, "  for host: %s\n", orDash(st.Mod.HostAppVersion))

	symbol := "✓"
	if st.Mod.Checksum != "" && st.Mod.Checksum != st.ArchiveChecksum {
		symbol = "✗"
	}
	fmt.Fprintf(w, "  %s archive matches recorded checksum\n", symbol)
	if st.Mod.UnpackedChecksum != "" {
		symbol = "✓"
		if st.Mod.UnpackedChecksum != st.UnpackedChecksum {
			symbol = "✗"
		}
		fmt.Fprintf(w, "  %s unpacked resources match recorded checksum\n", symbol)
	}
}

func describeFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return path + " (missing)"
	}
	return fmt.Sprintf("%s (%s, modified %s)", path, humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime()))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

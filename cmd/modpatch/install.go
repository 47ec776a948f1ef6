package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/install"
	"github.com/spf13/cobra"
)

type installOptions struct {
	descriptorFile string
	desc           install.ModDescriptor
	flags          install.Flags
}

func newInstallCmd(global *globalOptions) *cobra.Command {
	opts := &installOptions{}
	cmd := &cobra.Command{
		Use:   "install [--descriptor FILE | --link URL ...]",
		Short: "Download and install a mod",
		Long: `Install downloads the mod archive, backs up the host's original archive,
writes the mod and re-signs the host. An optional unpacked resource bundle is
installed next to the archive.

Examples:
  modpatch install --descriptor release.json
  modpatch install --link https://cdn.example/app.asar.zst --checksum <sha256> --version 2.1.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := opts.descriptor()
			if err != nil {
				return err
			}
			return runInstall(cmd.Context(), global, desc, opts.flags, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.descriptorFile, "descriptor", "d", "", "JSON mod descriptor")
	f.StringVar(&opts.desc.Link, "link", "", "archive URL")
	f.StringVar(&opts.desc.Checksum, "checksum", "", "sha256 of the decompressed archive")
	f.StringVar(&opts.desc.Version, "version", "", "mod version")
	f.StringVar(&opts.desc.HostAppVersion, "host-version", "", "host version the mod targets")
	f.StringVar(&opts.desc.Name, "name", "", "mod name")
	f.StringVar(&opts.desc.UnpackLink, "unpack-link", "", "unpacked resources bundle URL")
	f.StringVar(&opts.desc.UnpackedChecksum, "unpacked-checksum", "", "sha256 of the unpacked bundle")
	f.StringVar(&opts.desc.SignatureLink, "signature-link", "", "detached OpenPGP signature URL")
	f.BoolVar(&opts.flags.Force, "force", false, "skip the compatibility check")
	f.BoolVar(&opts.flags.Spoof, "spoof", false, "ignore the installed host version")
	f.BoolVar(&opts.flags.ShouldReinstall, "reinstall", false, "reinstall the host once before installing (Windows)")
	cmd.MarkFlagsMutuallyExclusive("descriptor", "link")

	return cmd
}

// descriptor returns the descriptor from --descriptor, overlaid with any
// explicit flags.
func (o *installOptions) descriptor() (install.ModDescriptor, error) {
	if o.descriptorFile == "" {
		if o.desc.Link == "" {
			return install.ModDescriptor{}, fmt.Errorf("either --descriptor or --link is required")
		}
		return o.desc, nil
	}

	data, err := os.ReadFile(o.descriptorFile)
	if err != nil {
		return install.ModDescriptor{}, fmt.Errorf("read descriptor: %w", err)
	}
	var desc install.ModDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return install.ModDescriptor{}, fmt.Errorf("parse descriptor %s: %w", o.descriptorFile, err)
	}
	overlay := map[*string]string{
		&desc.Checksum:         o.desc.Checksum,
		&desc.Version:          o.desc.Version,
		&desc.HostAppVersion:   o.desc.HostAppVersion,
		&desc.Name:             o.desc.Name,
		&desc.UnpackLink:       o.desc.UnpackLink,
		&desc.UnpackedChecksum: o.desc.UnpackedChecksum,
		&desc.SignatureLink:    o.desc.SignatureLink,
	}
	for dst, v := range overlay {
		if v != "" {
			*dst = v
		}
	}
	return desc, nil
}

func runInstall(ctx context.Context, global *globalOptions, desc install.ModDescriptor, flags install.Flags, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := loadApp(ctx, global, true)
	if err != nil {
		return err
	}
	defer a.close()

	rep := newConsoleReporter(cmd.OutOrStdout(), cmd.ErrOrStderr(), "Mod installed")
	return a.orch.Install(ctx, desc, flags, rep)
}

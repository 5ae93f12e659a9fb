// Command softdisk synthesizes FAT16 volume images from registered
// files and inspects the derived layout, using the same emulation core
// a device exposes over mass storage.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ardnew/softdisk/disk"
	"github.com/ardnew/softdisk/pkg"
)

var fs = afero.NewOsFs()

// volumeFlags are the geometry and identity flags shared by every
// subcommand.
type volumeFlags struct {
	sectorSize uint32
	sectors    uint32
	reserved   uint32
	maxFiles   uint32
	label      string
	serial     uint32
	longNames  bool
	files      []string
	roFiles    []string
}

func (v *volumeFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Uint32Var(&v.sectorSize, "sector-size", 512, "bytes per sector")
	f.Uint32Var(&v.sectors, "sectors", 8192, "total sector count")
	f.Uint32Var(&v.reserved, "reserved", 1, "reserved sectors before FAT copy 0")
	f.Uint32Var(&v.maxFiles, "max-files", 64, "root directory entry count")
	f.StringVar(&v.label, "label", "SOFTDISK", "volume label")
	f.Uint32Var(&v.serial, "serial", 0x1234, "volume serial number")
	f.BoolVar(&v.longNames, "long-names", true, "encode long filenames")
	f.StringArrayVar(&v.files, "file", nil, "register writable file as NAME=PATH (repeatable)")
	f.StringArrayVar(&v.roFiles, "read-only", nil, "register read-only file as NAME=PATH (repeatable)")
}

// buildDisk constructs and seals a disk from the parsed flags.
func (v *volumeFlags) buildDisk() (*disk.Disk, error) {
	d, err := disk.New(disk.Config{
		SectorSize:      v.sectorSize,
		SectorCount:     v.sectors,
		ReservedSectors: v.reserved,
		MaxFiles:        v.maxFiles,
		VolumeLabel:     v.label,
		SerialNumber:    v.serial,
		Vendor:          "softdisk",
		Product:         "Virtual FAT16",
		Revision:        "1.0",
		LongNames:       v.longNames,
	})
	if err != nil {
		return nil, err
	}

	if err := registerAll(d, v.files, false); err != nil {
		return nil, err
	}
	if err := registerAll(d, v.roFiles, true); err != nil {
		return nil, err
	}

	d.Present()
	return d, nil
}

// registerAll loads each NAME=PATH spec and registers its content.
func registerAll(d *disk.Disk, specs []string, readOnly bool) error {
	for _, spec := range specs {
		name, path, ok := strings.Cut(spec, "=")
		if !ok || name == "" || path == "" {
			return fmt.Errorf("malformed file spec %q, want NAME=PATH", spec)
		}
		content, err := afero.ReadFile(fs, path)
		if err != nil {
			return fmt.Errorf("load %q: %w", path, err)
		}
		if _, err := d.AddFile(name, content, readOnly); err != nil {
			return err
		}
	}
	return nil
}

func imageCmd() *cobra.Command {
	var vol volumeFlags
	var out string

	cmd := &cobra.Command{
		Use:   "image",
		Short: "Write the synthesized FAT16 volume to an image file",
		RunE: func(_ *cobra.Command, _ []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			d, err := vol.buildDisk()
			if err != nil {
				return err
			}
			geo := d.Geometry()

			img, err := fs.Create(out)
			if err != nil {
				return fmt.Errorf("create %q: %w", out, err)
			}
			defer img.Close()

			buf := make([]byte, geo.SectorSize)
			for lba := uint32(0); lba < geo.SectorCount; lba++ {
				if _, err := d.ReadBlock(lba, 0, buf); err != nil {
					return fmt.Errorf("render lba %d: %w", lba, err)
				}
				if _, err := img.Write(buf); err != nil {
					return fmt.Errorf("write %q: %w", out, err)
				}
			}

			fmt.Printf("wrote %d sectors (%d bytes) to %s\n",
				geo.SectorCount, geo.SectorCount*geo.SectorSize, out)
			return nil
		},
	}
	vol.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output image path")
	return cmd
}

func geometryCmd() *cobra.Command {
	var vol volumeFlags

	cmd := &cobra.Command{
		Use:   "geometry",
		Short: "Print the derived volume layout",
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := vol.buildDisk()
			if err != nil {
				return err
			}
			geo := d.Geometry()

			fmt.Printf("sector size        %d\n", geo.SectorSize)
			fmt.Printf("sector count       %d\n", geo.SectorCount)
			fmt.Printf("reserved sectors   %d\n", geo.ReservedSectors)
			fmt.Printf("sectors per FAT    %d\n", geo.SectorsPerFAT)
			fmt.Printf("FAT copy 0 start   %d\n", geo.FATCopy0Start)
			fmt.Printf("FAT copy 1 start   %d\n", geo.FATCopy1Start)
			fmt.Printf("root dir start     %d\n", geo.RootDirStart)
			fmt.Printf("root dir sectors   %d\n", geo.RootDirSectors)
			fmt.Printf("root dir entries   %d\n", geo.RootDirEntries)
			fmt.Printf("content start      %d\n", geo.ContentStart)
			return nil
		},
	}
	vol.register(cmd)
	return cmd
}

func filesCmd() *cobra.Command {
	var vol volumeFlags

	cmd := &cobra.Command{
		Use:   "files",
		Short: "Print the registered file table with sector assignments",
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := vol.buildDisk()
			if err != nil {
				return err
			}

			fmt.Printf("%-24s %-12s %10s %12s %12s %3s\n",
				"NAME", "SHORT", "BYTES", "SECTORS", "CLUSTERS", "RO")
			for _, f := range d.Files() {
				s0, s1 := f.Sectors()
				c0, c1 := f.Clusters()
				ro := ""
				if f.ReadOnly() {
					ro = "ro"
				}
				fmt.Printf("%-24s %-12s %10d %5d-%-6d %5d-%-6d %3s\n",
					f.Name(), f.ShortName(), f.Size(), s0, s1, c0, c1, ro)
			}
			return nil
		},
	}
	vol.register(cmd)
	return cmd
}

func main() {
	var logLevel string

	root := &cobra.Command{
		Use:   "softdisk",
		Short: "Virtual FAT16 volume synthesizer",
		Long:  "Synthesize and inspect FAT16 volume images built from registered files",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			switch logLevel {
			case "debug":
				pkg.SetLogLevel(slog.LevelDebug)
			case "info":
				pkg.SetLogLevel(slog.LevelInfo)
			case "warn":
				pkg.SetLogLevel(slog.LevelWarn)
			case "error":
				pkg.SetLogLevel(slog.LevelError)
			default:
				return fmt.Errorf("unknown --log-level %q", logLevel)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"log verbosity (debug, info, warn, error)")

	root.AddCommand(imageCmd(), geometryCmd(), filesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

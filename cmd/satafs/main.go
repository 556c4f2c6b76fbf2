// satafs is the operator tool for the storage stack: it formats, inspects,
// and manipulates FAT32 images, and can drive the full PCI/AHCI/ATA path
// against the emulated HBA for bring-up work without hardware.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/ahci"
	"github.com/baremetal-go/satafs/ata"
	"github.com/baremetal-go/satafs/dma"
	"github.com/baremetal-go/satafs/emu"
	"github.com/baremetal-go/satafs/fat32"
	"github.com/baremetal-go/satafs/pci"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "satafs",
		Usage: "format, inspect, and manipulate FAT32 disk images",
		Commands: []*cli.Command{
			formatCommand(),
			infoCommand(),
			lsCommand(),
			catCommand(),
			putCommand(),
			rmCommand(),
			mkdirCommand(),
			usageCommand(),
			probeCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "satafs: %s\n", err)
		os.Exit(1)
	}
}

// openVolume mounts the image named by the first CLI argument.
func openVolume(c *cli.Context) (*fat32.Volume, *os.File, error) {
	if c.NArg() < 1 {
		return nil, nil, fmt.Errorf("an image path is required")
	}
	file, err := os.OpenFile(c.Args().Get(0), os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	dev, err := emu.NewImageDevice(file)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	vol, err := fat32.Mount(dev, satafs.DefaultConfig(), nil)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return vol, file, nil
}

func formatCommand() *cli.Command {
	return &cli.Command{
		Name:      "format",
		Usage:     "write a fresh FAT32 filesystem onto an image",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "label", Value: "NO NAME", Usage: "volume label"},
			&cli.UintFlag{Name: "cluster-size", Usage: "sectors per cluster (0 = pick by size)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("an image path is required")
			}
			file, err := os.OpenFile(c.Args().Get(0), os.O_RDWR, 0)
			if err != nil {
				return err
			}
			defer file.Close()
			dev, err := emu.NewImageDevice(file)
			if err != nil {
				return err
			}
			return fat32.FormatWithClusterSize(
				dev, c.String("label"), uint32(c.Uint("cluster-size")),
				satafs.DefaultConfig(), nil)
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "show what an image holds and its mount geometry",
		ArgsUsage: "IMAGE",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("an image path is required")
			}
			file, err := os.Open(c.Args().Get(0))
			if err != nil {
				return err
			}
			defer file.Close()
			dev, err := emu.NewImageDevice(file)
			if err != nil {
				return err
			}

			kind, parts, err := fat32.DetectBootRecord(dev)
			if err != nil {
				return err
			}
			fmt.Printf("boot record: %s\n", kind)
			for _, p := range parts {
				fmt.Printf("  partition type %#02x at LBA %d, %s\n",
					p.Type, p.StartLBA,
					humanize.IBytes(uint64(p.Sectors)*satafs.SectorSize))
			}
			if kind != fat32.BootRecordFAT32 {
				return nil
			}

			vol, err := fat32.Mount(dev, satafs.DefaultConfig(), nil)
			if err != nil {
				return err
			}
			geo := vol.Geometry()
			fmt.Printf("label:              %s\n", geo.VolumeLabel)
			fmt.Printf("volume size:        %s\n", humanize.IBytes(geo.TotalSectors*satafs.SectorSize))
			fmt.Printf("cluster size:       %s\n", humanize.IBytes(uint64(geo.BytesPerCluster)))
			fmt.Printf("total clusters:     %d\n", geo.TotalClusters)
			fmt.Printf("reserved sectors:   %d\n", geo.ReservedSectors)
			fmt.Printf("FATs:               %d x %d sectors\n", geo.NumFATs, geo.SectorsPerFAT)
			if hint, ok := vol.FreeClusterHint(); ok {
				fmt.Printf("free (advisory):    %d clusters, %s\n", hint,
					humanize.IBytes(uint64(hint)*uint64(geo.BytesPerCluster)))
			} else {
				fmt.Printf("free (advisory):    unknown\n")
			}
			return nil
		},
	}
}

func lsCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "list a directory",
		ArgsUsage: "IMAGE [PATH]",
		Action: func(c *cli.Context) error {
			vol, file, err := openVolume(c)
			if err != nil {
				return err
			}
			defer file.Close()

			dir, err := vol.ResolveDir(c.Args().Get(1))
			if err != nil {
				return err
			}
			entries, err := vol.List(dir)
			if err != nil {
				return err
			}
			for _, e := range entries {
				switch {
				case e.IsVolumeLabel():
					fmt.Printf("%-14s <label>\n", e.Name)
				case e.IsDirectory():
					fmt.Printf("%-14s <dir>   cluster %d\n", e.Name, e.FirstCluster)
				default:
					fmt.Printf("%-14s %8s  cluster %d\n",
						e.Name, humanize.IBytes(uint64(e.Size)), e.FirstCluster)
				}
			}
			return nil
		},
	}
}

func catCommand() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "write a file's contents to stdout",
		ArgsUsage: "IMAGE NAME",
		Action: func(c *cli.Context) error {
			vol, file, err := openVolume(c)
			if err != nil {
				return err
			}
			defer file.Close()

			stream, err := vol.OpenFile(vol.RootCluster(), c.Args().Get(1))
			if err != nil {
				return err
			}
			_, err = io.Copy(os.Stdout, stream)
			return err
		},
	}
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "copy a local file into the image's root directory",
		ArgsUsage: "IMAGE LOCALFILE [NAME]",
		Action: func(c *cli.Context) error {
			vol, file, err := openVolume(c)
			if err != nil {
				return err
			}
			defer file.Close()

			data, err := os.ReadFile(c.Args().Get(1))
			if err != nil {
				return err
			}
			name := c.Args().Get(2)
			if name == "" {
				name = shortNameFor(c.Args().Get(1))
			}
			return vol.WriteFile(vol.RootCluster(), name, data)
		},
	}
}

func rmCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "delete a file from the image's root directory",
		ArgsUsage: "IMAGE NAME",
		Action: func(c *cli.Context) error {
			vol, file, err := openVolume(c)
			if err != nil {
				return err
			}
			defer file.Close()
			return vol.DeleteFile(vol.RootCluster(), c.Args().Get(1))
		},
	}
}

func mkdirCommand() *cli.Command {
	return &cli.Command{
		Name:      "mkdir",
		Usage:     "create a subdirectory in the image's root directory",
		ArgsUsage: "IMAGE NAME",
		Action: func(c *cli.Context) error {
			vol, file, err := openVolume(c)
			if err != nil {
				return err
			}
			defer file.Close()
			_, err = vol.Mkdir(vol.RootCluster(), c.Args().Get(1))
			return err
		},
	}
}

func usageCommand() *cli.Command {
	return &cli.Command{
		Name:      "usage",
		Usage:     "cross-check the directory tree against the FAT",
		ArgsUsage: "IMAGE",
		Action: func(c *cli.Context) error {
			vol, file, err := openVolume(c)
			if err != nil {
				return err
			}
			defer file.Close()

			report, err := vol.ScanUsage()
			if err != nil {
				return err
			}
			fmt.Printf("clusters:  %d total, %d used, %d free\n",
				report.TotalClusters, report.UsedClusters, report.FreeClusters)
			if report.OrphanedClusters > 0 {
				fmt.Printf("orphaned:  %d clusters not referenced by any directory\n",
					report.OrphanedClusters)
			}
			if drift, ok := report.FreeCountDrift(); ok {
				fmt.Printf("FSInfo:    free count off by %+d\n", drift)
			} else {
				fmt.Printf("FSInfo:    free count unknown\n")
			}
			return nil
		},
	}
}

// probeCommand drives the whole stack, PCI scan included, against the
// software HBA backed by the image.
func probeCommand() *cli.Command {
	return &cli.Command{
		Name:      "probe",
		Usage:     "bring the AHCI/ATA path up against an emulated HBA",
		ArgsUsage: "IMAGE",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("an image path is required")
			}
			file, err := os.OpenFile(c.Args().Get(0), os.O_RDWR, 0)
			if err != nil {
				return err
			}
			defer file.Close()

			bus := emu.NewBus(0xFEBF1000)
			found, err := pci.FindAHCIController(bus)
			if err != nil {
				return err
			}
			fmt.Printf("AHCI controller %04x:%04x at %s, ABAR %#x\n",
				found.VendorID, found.DeviceID, found.Address, found.HBABase)

			pool := dma.NewPool(0x100000, make([]byte, 1<<20))
			hba, err := emu.NewHBA(pool, file)
			if err != nil {
				return err
			}

			cfg := satafs.DefaultConfig()
			ctrl := ahci.NewController(hba, pool, cfg, nil)
			if err := ctrl.Init(); err != nil {
				return err
			}
			port := ctrl.ActivePort()
			if err := port.Init(); err != nil {
				return err
			}

			dev := ata.NewDevice(port, cfg)
			identity, err := dev.Identify()
			if err != nil {
				return err
			}

			fmt.Printf("model:    %s\n", identity.Model)
			fmt.Printf("serial:   %s\n", identity.Serial)
			fmt.Printf("firmware: %s\n", identity.Firmware)
			fmt.Printf("mode:     %s\n", dev.Mode())
			fmt.Printf("capacity: %d sectors (%s)\n", identity.Sectors(),
				humanize.IBytes(identity.Sectors()*satafs.SectorSize))
			fmt.Println(port.Snapshot())
			return nil
		},
	}
}

// shortNameFor uppercases a local path's base name into 8.3 territory.
func shortNameFor(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	out := make([]byte, 0, len(base))
	for _, ch := range []byte(base) {
		if ch >= 'a' && ch <= 'z' {
			ch -= 'a' - 'A'
		}
		out = append(out, ch)
	}
	return string(out)
}

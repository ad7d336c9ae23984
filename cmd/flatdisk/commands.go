package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dargueta/flatdisk"
	"github.com/dargueta/flatdisk/config"
	"github.com/dargueta/flatdisk/drivers/flatfs"
	"github.com/dargueta/flatdisk/utilities/compression"
	"github.com/gocarina/gocsv"
	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v2"
)

func loadConfig(context *cli.Context) (*config.Config, error) {
	c, err := config.LoadConfig(context.String("config"))
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// withFileSystem mounts the configured image, runs `action`, and unmounts it
// again. If `modifies` is true the file system is synced afterwards.
func withFileSystem(
	context *cli.Context,
	modifies bool,
	action func(fs *flatfs.FileSystem) error,
) error {
	c, err := loadConfig(context)
	if err != nil {
		return err
	}

	logger := c.Logger(context.App.ErrWriter)
	fs, device, err := c.Mount(logger)
	if err != nil {
		return err
	}

	var result *multierror.Error
	err = action(fs)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if modifies {
		err = fs.Sync()
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	err = device.Close()
	if err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func requireArgs(context *cli.Context, minArgs, maxArgs int) error {
	if context.NArg() < minArgs || context.NArg() > maxArgs {
		return cli.Exit(
			fmt.Sprintf("usage: %s %s", context.Command.HelpName, context.Command.ArgsUsage),
			2,
		)
	}
	return nil
}

func formatImage(context *cli.Context) error {
	return withFileSystem(context, true, func(fs *flatfs.FileSystem) error {
		inodes := context.Int("inodes")
		if inodes == 0 {
			stat, err := fs.FSStat()
			if err != nil {
				return err
			}
			inodes = stat.TotalInodes
		}
		return fs.Format(inodes)
	})
}

func putFile(context *cli.Context) error {
	err := requireArgs(context, 1, 2)
	if err != nil {
		return err
	}

	var source io.Reader = os.Stdin
	if context.NArg() == 2 {
		sourceFile, err := os.Open(context.Args().Get(1))
		if err != nil {
			return err
		}
		defer sourceFile.Close()
		source = sourceFile
	}

	return withFileSystem(context, true, func(fs *flatfs.FileSystem) error {
		file, err := fs.OpenFile(context.Args().First(), flatdisk.ModeWrite)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(file, source)
		closeErr := file.Close()
		if copyErr != nil {
			return copyErr
		}
		return closeErr
	})
}

func catFile(context *cli.Context) error {
	err := requireArgs(context, 1, 1)
	if err != nil {
		return err
	}

	return withFileSystem(context, false, func(fs *flatfs.FileSystem) error {
		file, err := fs.OpenFile(context.Args().First(), flatdisk.ModeRead)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(context.App.Writer, file)
		return err
	})
}

func removeFile(context *cli.Context) error {
	err := requireArgs(context, 1, 1)
	if err != nil {
		return err
	}
	return withFileSystem(context, true, func(fs *flatfs.FileSystem) error {
		return fs.Delete(context.Args().First())
	})
}

func listFiles(context *cli.Context) error {
	return withFileSystem(context, false, func(fs *flatfs.FileSystem) error {
		files, err := fs.List()
		if err != nil {
			return err
		}
		for _, file := range files {
			fmt.Fprintf(context.App.Writer, "%8d  %-14s  %s\n", file.Length, file.State, file.Name)
		}
		return nil
	})
}

func showStats(context *cli.Context) error {
	return withFileSystem(context, false, func(fs *flatfs.FileSystem) error {
		stat, err := fs.FSStat()
		if err != nil {
			return err
		}
		files, err := fs.List()
		if err != nil {
			return err
		}

		w := context.App.Writer
		fmt.Fprintf(w, "blocks:       %d\n", stat.TotalBlocks)
		fmt.Fprintf(w, "data blocks:  %d\n", stat.TotalBlocks-stat.FirstDataBlock)
		fmt.Fprintf(w, "free blocks:  %d\n", stat.FreeBlocks)
		fmt.Fprintf(w, "inodes:       %d\n", stat.TotalInodes)
		fmt.Fprintf(w, "files:        %d\n", len(files))
		return nil
	})
}

func dumpInodes(context *cli.Context) error {
	return withFileSystem(context, false, func(fs *flatfs.FileSystem) error {
		records, err := fs.InodeRecords(context.Bool("all"))
		if err != nil {
			return err
		}
		return gocsv.Marshal(records, context.App.Writer)
	})
}

func checkImage(context *cli.Context) error {
	return withFileSystem(context, false, func(fs *flatfs.FileSystem) error {
		report, err := fs.Check()

		w := context.App.Writer
		fmt.Fprintf(w, "free blocks:   %d\n", report.FreeBlocks)
		fmt.Fprintf(w, "owned blocks:  %d\n", report.OwnedBlocks)
		fmt.Fprintf(w, "leaked blocks: %d %v\n", len(report.Leaked), report.Leaked)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return nil
	})
}

func exportImage(context *cli.Context) error {
	err := requireArgs(context, 1, 1)
	if err != nil {
		return err
	}
	c, err := loadConfig(context)
	if err != nil {
		return err
	}

	device, err := c.OpenDevice()
	if err != nil {
		return err
	}
	defer device.Close()

	output, err := os.Create(context.Args().First())
	if err != nil {
		return err
	}
	defer output.Close()

	blocks, err := compression.ExportDevice(device, output)
	if err != nil {
		return err
	}
	fmt.Fprintf(context.App.Writer, "Exported %d blocks.\n", blocks)
	return output.Close()
}

func importImage(context *cli.Context) error {
	err := requireArgs(context, 1, 1)
	if err != nil {
		return err
	}
	c, err := loadConfig(context)
	if err != nil {
		return err
	}

	input, err := os.Open(context.Args().First())
	if err != nil {
		return err
	}
	defer input.Close()

	device, err := c.OpenDevice()
	if err != nil {
		return err
	}
	defer device.Close()

	blocks, err := compression.ImportDevice(input, device)
	if err != nil {
		return err
	}
	fmt.Fprintf(context.App.Writer, "Imported %d blocks.\n", blocks)
	return nil
}

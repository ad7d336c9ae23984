package main

import (
	"log"
	"os"

	"github.com/dargueta/flatdisk"
	"github.com/urfave/cli/v2"
)

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		log.Printf("fatal error: %s", err.Error())
		os.Exit(exitStatus(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "flatdisk",
		Usage: "Manage flat single-directory disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file (default: $FLATDISK_CONFIG_FILE)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "format",
				Usage:  "Erase the image and create an empty file system",
				Action: formatImage,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "inodes",
						Usage: "number of inodes, and so the maximum number of files plus one",
					},
				},
			},
			{
				Name:      "put",
				Usage:     "Copy a file into the image, replacing it if it exists",
				ArgsUsage: "NAME [SOURCE_FILE]",
				Action:    putFile,
			},
			{
				Name:      "cat",
				Usage:     "Write the contents of a file to stdout",
				ArgsUsage: "NAME",
				Action:    catFile,
			},
			{
				Name:      "rm",
				Usage:     "Delete a file",
				ArgsUsage: "NAME",
				Action:    removeFile,
			},
			{
				Name:   "ls",
				Usage:  "List all files",
				Action: listFiles,
			},
			{
				Name:   "stat",
				Usage:  "Show block and inode usage",
				Action: showStats,
			},
			{
				Name:   "inodes",
				Usage:  "Dump the inode table as CSV",
				Action: dumpInodes,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "include unused inodes",
					},
				},
			},
			{
				Name:   "check",
				Usage:  "Verify the consistency of the free list and block maps",
				Action: checkImage,
			},
			{
				Name:      "export",
				Usage:     "Save a compressed snapshot of the image",
				ArgsUsage: "OUTPUT_FILE",
				Action:    exportImage,
			},
			{
				Name:      "import",
				Usage:     "Overwrite the image with a compressed snapshot",
				ArgsUsage: "SNAPSHOT_FILE",
				Action:    importImage,
			},
		},
	}
}

// exitStatus picks a distinct exit status for each kind of failure so scripts
// can tell a missing file from a full disk.
func exitStatus(err error) int {
	switch flatdisk.KindOf(err) {
	case flatdisk.KindInvalidArgument:
		return 2
	case flatdisk.KindNotFound:
		return 3
	case flatdisk.KindPermissionDenied:
		return 4
	case flatdisk.KindConflict:
		return 5
	case flatdisk.KindExhaustedStorage:
		return 6
	case flatdisk.KindCorruptState:
		return 7
	default:
		return 1
	}
}

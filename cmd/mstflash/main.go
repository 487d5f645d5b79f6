// Command mstflash updates the firmware of Synaptics MST and VMM9 hubs.
package main

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
)

const VERSION = "v0.1.0"

func init() {
	if debug := os.Getenv("DEBUG_LOGGING"); debug == "true" {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "mstflash"
	app.Version = VERSION
	app.Usage = "Update, dump and inspect the firmware of Synaptics MST and VMM9 DisplayPort hubs"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			EnvVars: []string{"DEBUG_LOGGING"},
			Usage:   "Log every packet exchanged with the hub",
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.Bool("debug") {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	}
	app.Commands = []*cli.Command{
		{
			Name:   "update",
			Usage:  "Write, verify and activate a firmware image",
			Flags:  append(deviceFlags(), updateFlags()...),
			Action: runUpdate,
		},
		{
			Name:  "dump",
			Usage: "Read flash content into a file",
			Flags: append(deviceFlags(),
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true, TakesFile: true, Usage: "Output file"},
				&cli.IntFlag{Name: "size", Value: 0x80000, Usage: "Number of bytes to read"},
				&cli.StringFlag{Name: "offset", Value: "0", Usage: "Flash offset to start from"},
			),
			Action: runDump,
		},
		{
			Name:  "info",
			Usage: "Show image checksums and hub identification",
			Flags: append(deviceFlags(),
				&cli.StringFlag{Name: "image", Aliases: []string{"i"}, TakesFile: true, Usage: "Firmware image to summarize"},
				&cli.BoolFlag{Name: "offline", Usage: "Do not query the hub"},
			),
			Action: runInfo,
		},
	}
	return app
}

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "dialect",
			Value:   "vmm9",
			EnvVars: []string{"MSTFLASH_DIALECT"},
			Usage:   "Command dialect: vmm9, hid or register",
		},
		&cli.StringFlag{
			Name:    "family",
			EnvVars: []string{"MSTFLASH_FAMILY"},
			Usage:   "Chip family for the hid and register dialects: tesla, leaf, panamera, cayenne or spyder",
		},
		&cli.StringFlag{Name: "vid", Value: "0x06CB", Usage: "USB vendor ID"},
		&cli.StringFlag{Name: "pid", Value: "0x7000", Usage: "USB product ID"},
		&cli.StringFlag{
			Name:      "aux",
			EnvVars:   []string{"MSTFLASH_AUX"},
			TakesFile: true,
			Usage:     "DisplayPort AUX device for the register dialect, e.g. /dev/drm_dp_aux0",
		},
		&cli.BoolFlag{Name: "simulate", Usage: "Talk to an in-memory hub instead of hardware"},
		&cli.StringFlag{Name: "target", Usage: "Override the write region: eeprom, memory, tx-dpcd, tx-dpcd-tx1..3"},
		&cli.StringFlag{Name: "verify", Usage: "Override the verification method: checksum, crc8 or crc16"},
		&cli.DurationFlag{Name: "poll-interval", Value: 100 * time.Millisecond, Usage: "Delay between reply polls"},
	}
}

func updateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Required: true, TakesFile: true, Usage: "Firmware image"},
		&cli.BoolFlag{Name: "backup", Usage: "Back up the current flash and roll back on a read-back mismatch"},
		&cli.BoolFlag{Name: "verify-readback", Usage: "Read the flash back after activation and compare it with the image"},
		&cli.StringFlag{Name: "board-id", Usage: "Board the image is built for; the update is refused on another board (vmm9)"},
		&cli.IntFlag{Name: "erase-banks", Usage: "Number of 64 KiB banks to erase (default: whole flash for vmm9, one bank otherwise)"},
		&cli.DurationFlag{Name: "erase-settle", Value: 3 * time.Second, Usage: "Delay after erasing"},
	}
}

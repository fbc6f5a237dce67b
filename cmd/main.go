package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"signalengine/cmd/keys"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Signal Engine CMD"
	app.Usage = "The signal engine command line interface"
	app.Version = Version

	app.Commands = []cli.Command{
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var keysCMD = cli.Command{
	Name:        "keys",
	Usage:       "manage exchange credentials",
	Action:      keysAction,
	ArgsUsage:   "",
	Flags:       []cli.Flag{},
	Description: `Interactive CLI for storing encrypted exchange API credentials`,
}

func keysAction(_ *cli.Context) error {
	logrus.Info("Starting keys CMD")

	if err := keys.Run(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

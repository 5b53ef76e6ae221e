package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli"
)

const defaultDataDirname = "data"

var defaultDataDir = filepath.Join(os.Getenv("HOME"), ".xlnd", defaultDataDirname)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[xlncli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "xlncli"
	app.Version = "0.1"
	app.Usage = "control plane for your xln daemon (xlnd)"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "datadir",
			Value: defaultDataDir,
			Usage: "path to xlnd's persistence directory (xlncli reads xlnd's boltdb file directly; no RPC surface exists yet)",
		},
	}
	app.Commands = []cli.Command{
		listEntitiesCommand,
		showEntityCommand,
		listAccountsCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

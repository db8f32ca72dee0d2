package main

import (
	"gopkg.in/urfave/cli.v1"
)

var (
	siteConfigFlag = cli.StringFlag{
		Name:   "site",
		Usage:  "Path to site.json",
		Value:  "config/site.json",
		EnvVar: "SITE_CONFIG_PATH",
	}
	deploymentsFlag = cli.StringFlag{
		Name:   "deployments",
		Usage:  "Path to deployments.json",
		Value:  "config/deployments.json",
		EnvVar: "DEPLOYMENTS_PATH",
	}
	backendFlag = cli.StringFlag{
		Name:  "backend",
		Usage: "Wallet backend to connect with (rpc, privatekey, keystore, clef)",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}
	noPollFlag = cli.BoolFlag{
		Name:  "nopoll",
		Usage: "Serve without the background contract poller",
	}
)

package main

import (
	"github.com/urfave/cli"
)

const defaultConfigPath = "./capsuled.yaml"

func newCLI() *cli.App {
	app := cli.NewApp()
	app.Name = "capsuled"
	app.HelpName = "capsuled"
	app.Usage = "deliver time capsules by email when their date arrives"
	app.UsageText = "capsuled [--config FILE] <command> [arguments...]"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  defaultConfigPath,
			Usage:  "path to the YAML or JSON config file",
			EnvVar: "CAPSULED_CONFIG",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the delivery scheduler until SIGINT/SIGTERM",
			Action: runAction,
		},
		{
			Name:   "scan",
			Usage:  "run one scan cycle now and exit",
			Action: scanAction,
		},
		{
			Name:   "due",
			Usage:  "list capsules the next scan would deliver",
			Action: dueAction,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"},
			},
		},
		{
			Name:      "add",
			Usage:     "store a new capsule",
			ArgsUsage: " ",
			Action:    addAction,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "title", Usage: "capsule title"},
				cli.StringFlag{Name: "author", Usage: "who wrote it"},
				cli.StringFlag{Name: "message, m", Usage: "message body"},
				cli.StringFlag{Name: "email, e", Usage: "destination address"},
				cli.StringFlag{Name: "date, d", Usage: "send date, YYYY-MM-DD"},
			},
		},
		{
			Name:   "verify",
			Usage:  "check the SMTP relay and credentials",
			Action: verifyAction,
		},
	}
	return app
}

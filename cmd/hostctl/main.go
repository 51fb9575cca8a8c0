// cmd/hostctl/main.go
//
// hostctl – operator CLI for hostbus.
//
// Every command loads the same configuration as cmd/web and talks to the
// central store directly, so it works while the server is down.  Deploys
// run in-process and are recorded under deploy.system_user_id unless
// --operator names someone else.
//
//	hostctl deploy blog
//	hostctl deploy-all
//	hostctl backup blog
//	hostctl sites
//	hostctl deployments --status failed --limit 50
//	hostctl resolve blog.example.com
//	hostctl migrate-schema
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var flagDebug *cli.BoolFlag = &cli.BoolFlag{
	Name:  "debug",
	Usage: "Log at debug level",
}

var flagJSON *cli.BoolFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "Print results as JSON",
}

var flagOperator *cli.Int64Flag = &cli.Int64Flag{
	Name:  "operator",
	Usage: "system_users.id to record as deployed_by (default: deploy.system_user_id)",
}

var flagNotes *cli.StringFlag = &cli.StringFlag{
	Name:  "notes",
	Value: "hostctl",
	Usage: "Text stored in deployment_notes",
}

var flagStatus *cli.StringFlag = &cli.StringFlag{
	Name:  "status",
	Usage: "Only deployments in this status (pending, success, failed)",
}

var flagApp *cli.StringFlag = &cli.StringFlag{
	Name:  "app",
	Usage: "Only deployments of this app",
}

var flagLimit *cli.IntFlag = &cli.IntFlag{
	Name:  "limit",
	Value: 20,
	Usage: "Maximum rows to print",
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "hostctl",
		Usage: "manage sites and deployments on a hostbus host",
		Flags: []cli.Flag{flagDebug, flagJSON},
		Commands: []*cli.Command{
			{
				Name:      "deploy",
				Usage:     "Deploy one app from its repository",
				ArgsUsage: "<app>",
				Flags:     []cli.Flag{flagOperator, flagNotes},
				Action:    withServices(deployCmd),
			},
			{
				Name:   "deploy-all",
				Usage:  "Deploy every active site that has a repository",
				Flags:  []cli.Flag{flagOperator, flagNotes},
				Action: withServices(deployAllCmd),
			},
			{
				Name:      "backup",
				Usage:     "Archive apps/<app> under the backups directory",
				ArgsUsage: "<app>",
				Action:    withServices(backupCmd),
			},
			{
				Name:   "sites",
				Usage:  "List managed sites",
				Action: withServices(sitesCmd),
			},
			{
				Name:   "deployments",
				Usage:  "List recent deployments, newest first",
				Flags:  []cli.Flag{flagStatus, flagApp, flagLimit},
				Action: withServices(deploymentsCmd),
			},
			{
				Name:      "resolve",
				Usage:     "Show the tenant context a host resolves to",
				ArgsUsage: "<host>",
				Action:    withServices(resolveCmd),
			},
			{
				Name:   "migrate-schema",
				Usage:  "Create or update the central store tables",
				Action: migrateSchemaCmd,
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "hostctl:", err)
		os.Exit(1)
	}
}

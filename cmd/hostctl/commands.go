package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yanizio/hostbus/internal/config"
	"github.com/yanizio/hostbus/internal/core"
	"github.com/yanizio/hostbus/internal/database"
	"github.com/yanizio/hostbus/internal/deploy"
	"github.com/yanizio/hostbus/internal/deployment"
	"github.com/yanizio/hostbus/internal/logger"
	"github.com/yanizio/hostbus/internal/site"
)

type serviceAction func(c *cli.Context, svc *core.Services) error

// withServices loads config, installs a console logger, and wires the
// service graph around fn.
func withServices(fn serviceAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Console(c.Bool(flagDebug.Name))
		defer func() { _ = log.Sync() }()

		svc, err := core.Build(c.Context, cfg, log)
		if err != nil {
			return err
		}
		defer svc.Close()
		return fn(c, svc)
	}
}

func options(c *cli.Context) deploy.Options {
	opts := deploy.Options{Notes: c.String(flagNotes.Name)}
	if c.IsSet(flagOperator.Name) {
		id := c.Int64(flagOperator.Name)
		opts.Operator = &id
	}
	return opts
}

func requireArg(c *cli.Context, what string) (string, error) {
	v := c.Args().First()
	if v == "" {
		return "", cli.Exit(fmt.Sprintf("usage: hostctl %s <%s>", c.Command.Name, what), 2)
	}
	return v, nil
}

func deployCmd(c *cli.Context, svc *core.Services) error {
	app, err := requireArg(c, "app")
	if err != nil {
		return err
	}
	s, err := svc.Sites.ByAppName(c.Context, app)
	if errors.Is(err, site.ErrNotFound) {
		return cli.Exit("no managed site for app "+app, 1)
	}
	if err != nil {
		return err
	}

	rec, err := svc.Engine.Deploy(c.Context, *s, options(c))
	out := []deploy.Outcome{{AppName: app, Succeeded: err == nil, Deployment: rec, Err: err}}
	if perr := printOutcomes(c.App.Writer, out, c.Bool(flagJSON.Name)); perr != nil {
		return perr
	}
	if err != nil {
		return cli.Exit("", 1)
	}
	return nil
}

func deployAllCmd(c *cli.Context, svc *core.Services) error {
	sites, err := svc.Sites.ByStatus(c.Context, site.StatusActive)
	if err != nil {
		return err
	}
	opts := options(c)
	reqs := make([]deploy.Request, 0, len(sites))
	for _, s := range sites {
		if s.Repository() == "" {
			continue
		}
		reqs = append(reqs, deploy.Request{Site: s, Options: opts})
	}
	if len(reqs) == 0 {
		fmt.Fprintln(c.App.Writer, "no active sites with a repository")
		return nil
	}

	out := svc.Engine.DeployMany(c.Context, reqs)
	if err := printOutcomes(c.App.Writer, out, c.Bool(flagJSON.Name)); err != nil {
		return err
	}
	for _, o := range out {
		if !o.Succeeded {
			return cli.Exit("", 1)
		}
	}
	return nil
}

func backupCmd(c *cli.Context, svc *core.Services) error {
	app, err := requireArg(c, "app")
	if err != nil {
		return err
	}
	path, err := svc.Engine.Backup(c.Context, app)
	if err != nil {
		return cli.Exit(deploy.Message(err), 1)
	}
	fmt.Fprintln(c.App.Writer, path)
	return nil
}

func sitesCmd(c *cli.Context, svc *core.Services) error {
	sites, err := svc.Sites.All(c.Context)
	if err != nil {
		return err
	}
	return printSites(c.App.Writer, sites, c.Bool(flagJSON.Name))
}

func deploymentsCmd(c *cli.Context, svc *core.Services) error {
	rows, err := svc.Deployments.List(c.Context, deployment.Filter{
		Status:  c.String(flagStatus.Name),
		AppName: c.String(flagApp.Name),
		Limit:   c.Int(flagLimit.Name),
	})
	if err != nil {
		return err
	}
	return printDeployments(c.App.Writer, rows, c.Bool(flagJSON.Name))
}

func resolveCmd(c *cli.Context, svc *core.Services) error {
	host, err := requireArg(c, "host")
	if err != nil {
		return err
	}
	tc, err := svc.Hosts.ResolveHost(c.Context, host)
	if err != nil {
		return cli.Exit(host+": "+err.Error(), 1)
	}
	return printTenant(c.App.Writer, tc, c.Bool(flagJSON.Name))
}

// migrateSchemaCmd only needs the central store, so it skips core.Build.
func migrateSchemaCmd(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.Console(c.Bool(flagDebug.Name))

	db, err := database.Open(c.Context, cfg.Database.CentralDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.EnsureSchema(c.Context, db); err != nil {
		return err
	}
	if err := database.SeedSystemUser(c.Context, db, cfg.Deploy.SystemUserID); err != nil {
		return err
	}
	log.Infow("central schema up to date", "system_user_id", cfg.Deploy.SystemUserID)
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/yanizio/hostbus/internal/deploy"
	"github.com/yanizio/hostbus/internal/deployment"
	"github.com/yanizio/hostbus/internal/site"
	"github.com/yanizio/hostbus/internal/tenant"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outcomeView is an Outcome with the error flattened to its message.
type outcomeView struct {
	App          string  `json:"app"`
	Success      bool    `json:"success"`
	Message      string  `json:"message,omitempty"`
	DeploymentID *uint64 `json:"deployment_id,omitempty"`
	Commit       string  `json:"commit,omitempty"`
}

func viewOutcomes(out []deploy.Outcome) []outcomeView {
	views := make([]outcomeView, len(out))
	for i, o := range out {
		v := outcomeView{App: o.AppName, Success: o.Succeeded, Message: deploy.Message(o.Err)}
		if d := o.Deployment; d != nil {
			v.DeploymentID = &d.ID
			if d.GitCommit != nil {
				v.Commit = *d.GitCommit
			}
		}
		views[i] = v
	}
	return views
}

func printOutcomes(w io.Writer, out []deploy.Outcome, asJSON bool) error {
	views := viewOutcomes(out)
	if asJSON {
		return printJSON(w, views)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "APP\tRESULT\tDEPLOYMENT\tDETAIL")
	for _, v := range views {
		result, detail := "ok", short(v.Commit)
		if !v.Success {
			result, detail = "FAILED", v.Message
		}
		id := "-"
		if v.DeploymentID != nil {
			id = fmt.Sprint(*v.DeploymentID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.App, result, id, detail)
	}
	return tw.Flush()
}

func printSites(w io.Writer, sites []site.Record, asJSON bool) error {
	if asJSON {
		if sites == nil {
			sites = []site.Record{}
		}
		return printJSON(w, sites)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDOMAIN\tAPP\tSTATUS\tBRANCH\tAUTO")
	for _, s := range sites {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\n", s.ID, s.Domain, s.AppName, s.Status, s.Branch(), s.AutoDeploy)
	}
	return tw.Flush()
}

func printDeployments(w io.Writer, rows []deployment.Record, asJSON bool) error {
	if asJSON {
		if rows == nil {
			rows = []deployment.Record{}
		}
		return printJSON(w, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAPP\tSTATUS\tCOMMIT\tDEPLOYED AT\tERROR")
	for _, d := range rows {
		commit, msg := "", ""
		if d.GitCommit != nil {
			commit = short(*d.GitCommit)
		}
		if d.ErrorMessage != nil {
			msg = *d.ErrorMessage
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.AppName, d.Status, commit, d.DeployedAt.Format("2006-01-02 15:04:05"), msg)
	}
	return tw.Flush()
}

// tenantView omits secrets; Env may hold resolved passwords.
type tenantView struct {
	App               string   `json:"app"`
	Domain            string   `json:"domain,omitempty"`
	Title             string   `json:"title"`
	Theme             string   `json:"theme"`
	Builtin           bool     `json:"builtin"`
	ViewRoot          string   `json:"view_root"`
	Routes            int      `json:"routes"`
	Connections       []string `json:"connections"`
	DefaultConnection string   `json:"default_connection,omitempty"`
}

func printTenant(w io.Writer, tc *tenant.Context, asJSON bool) error {
	v := tenantView{
		App:               tc.AppName,
		Domain:            tc.Domain,
		Title:             tc.Title,
		Theme:             tc.Theme,
		Builtin:           tc.Builtin,
		ViewRoot:          tc.ViewRoot,
		Routes:            len(tc.Routes),
		Connections:       tc.Connections.Names(),
		DefaultConnection: tc.DefaultConnection,
	}
	if v.Connections == nil {
		v.Connections = []string{}
	}
	if asJSON {
		return printJSON(w, v)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "app\t%s\n", v.App)
	fmt.Fprintf(tw, "domain\t%s\n", v.Domain)
	fmt.Fprintf(tw, "title\t%s\n", v.Title)
	fmt.Fprintf(tw, "theme\t%s\n", v.Theme)
	fmt.Fprintf(tw, "builtin\t%t\n", v.Builtin)
	fmt.Fprintf(tw, "view root\t%s\n", v.ViewRoot)
	fmt.Fprintf(tw, "routes\t%d\n", v.Routes)
	fmt.Fprintf(tw, "connections\t%v\n", v.Connections)
	fmt.Fprintf(tw, "default\t%s\n", v.DefaultConnection)
	return tw.Flush()
}

func short(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

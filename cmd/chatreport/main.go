// Package `chatreport` prints chat sessions recorded by linechat.
//
//	chatreport --db linechat-sessions --limit 20
//	chatreport --json sessions.json
//	chatreport --prune-days 30
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/wtask/linechat/internal/journal"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// BinaryName - name of run application binary
var BinaryName = strings.TrimSuffix(filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]))

type options struct {
	db        string
	json      string
	limit     int
	pruneDays int
}

func main() {
	code, err := run(os.Args[1:], os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s error:\n\n\t%v\n", BinaryName, err)
	}
	os.Exit(code)
}

func parseOptions(args []string, out io.Writer) (options, error) {
	o := options{}
	fs := flag.NewFlagSet(BinaryName, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.db, "db", "linechat-sessions", "Session store directory")
	fs.StringVar(&o.json, "json", "", "Export sessions with summary into JSON file, - means stdout")
	fs.IntVar(&o.limit, "limit", 0, "Show only the latest sessions, 0 means all")
	fs.IntVar(&o.pruneDays, "prune-days", 0, "Delete sessions older than given num of days before report, 0 keeps everything")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.limit < 0 {
		return o, fmt.Errorf("limit value should be greater or equal 0")
	}
	if o.pruneDays < 0 {
		return o, fmt.Errorf("prune-days value should be greater or equal 0")
	}
	return o, nil
}

func run(args []string, stdout, stderr io.Writer) (int, error) {
	o, err := parseOptions(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK, nil
	}
	if err != nil {
		return exitConfig, err
	}

	store, err := journal.Open(o.db, nil)
	if err != nil {
		return exitRuntime, err
	}
	defer store.Close()

	if o.pruneDays > 0 {
		n, err := store.Prune(time.Now().AddDate(0, 0, -o.pruneDays))
		if err != nil {
			return exitRuntime, err
		}
		fmt.Fprintf(stdout, "%d session(s) pruned\n", n)
	}

	sessions, err := store.Sessions(o.limit)
	if err != nil {
		return exitRuntime, err
	}

	switch o.json {
	case "":
	case "-":
		return exportTo(stdout, sessions)
	default:
		f, err := os.Create(o.json)
		if err != nil {
			return exitRuntime, err
		}
		code, err := exportTo(f, sessions)
		if cerr := f.Close(); err == nil && cerr != nil {
			return exitRuntime, cerr
		}
		if err != nil {
			return code, err
		}
		fmt.Fprintf(stdout, "%d session(s) exported to %s\n", len(sessions), o.json)
	}

	renderSessions(stdout, sessions)
	renderSummary(stdout, journal.Summarize(sessions))
	return exitOK, nil
}

func exportTo(w io.Writer, sessions []journal.Session) (int, error) {
	if err := journal.ExportJSON(w, sessions); err != nil {
		return exitRuntime, err
	}
	return exitOK, nil
}

func renderSessions(w io.Writer, sessions []journal.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Started", "Kind", "Address", "Duration", "Joins", "Parts", "Rejected", "Relayed", "Errors", "Peak", "Host"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, s := range sessions {
		host := ""
		if s.Machine != nil {
			host = s.Machine.Hostname
		}
		kind := string(s.Kind)
		if s.Name != "" {
			kind += " (" + s.Name + ")"
		}
		table.Append([]string{
			s.StartedAt.Local().Format(time.DateTime),
			kind,
			fmt.Sprintf("%s:%d", s.Address, s.Port),
			(time.Duration(s.DurationSeconds * float64(time.Second))).Round(time.Second).String(),
			strconv.Itoa(s.Joins),
			strconv.Itoa(s.Parts),
			strconv.Itoa(s.Rejected),
			strconv.Itoa(s.Relayed),
			strconv.Itoa(s.Errors),
			strconv.Itoa(s.PeakParticipants),
			host,
		})
	}
	table.Render()
}

func renderSummary(w io.Writer, s journal.Summary) {
	if s.Sessions == 0 {
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Summary", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk([][]string{
		{"Sessions", fmt.Sprintf("%d (server %d, client %d)", s.Sessions, s.ServerSessions, s.ClientSessions)},
		{"Joins / parts", fmt.Sprintf("%d / %d", s.Joins, s.Parts)},
		{"Rejected", strconv.Itoa(s.Rejected)},
		{"Relayed", strconv.Itoa(s.Relayed)},
		{"Errors", strconv.Itoa(s.Errors)},
		{"Peak participants", strconv.Itoa(s.PeakParticipants)},
		{"Average duration", (time.Duration(s.AverageSeconds * float64(time.Second))).Round(time.Second).String()},
		{"Longest duration", (time.Duration(s.LongestSeconds * float64(time.Second))).Round(time.Second).String()},
		{"Period", s.First.Local().Format(time.DateTime) + " - " + s.Last.Local().Format(time.DateTime)},
	})
	table.Render()
}

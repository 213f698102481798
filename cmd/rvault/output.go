package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forest6511/rvault/internal/cli"
	"github.com/forest6511/rvault/pkg/store"
)

// Output formats
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// writeStructured encodes data as JSON or YAML.
func writeStructured(w io.Writer, format string, data any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q (use table, json or yaml)", format)
}

// renderEntries writes entry metadata. Secrets are never part of the output.
func renderEntries(w io.Writer, format string, entries []*store.Entry) error {
	if format != formatTable {
		if entries == nil {
			entries = []*store.Entry{}
		}
		return writeStructured(w, format, entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PIN\tPLATFORM\tUSER\tUPDATED")
	for _, e := range entries {
		pin := ""
		if e.Pinned {
			pin = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", pin, e.Platform, e.UserID, e.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

// renderVaults lists vault names, marking the current one.
func renderVaults(w io.Writer, names []string, current string) {
	if len(names) == 0 {
		fmt.Fprintln(w, "No vaults found")
		return
	}
	for _, n := range names {
		if strings.EqualFold(n, current) {
			fmt.Fprintf(w, "%s %s\n", cli.Success.Sprint("*"), n)
			continue
		}
		fmt.Fprintf(w, "  %s\n", n)
	}
}

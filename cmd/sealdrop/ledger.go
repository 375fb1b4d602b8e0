// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/sealdrop/lib/ledger"
	"github.com/bureau-foundation/sealdrop/lib/process"
	"github.com/bureau-foundation/sealdrop/lib/report"
)

func runLedger(args []string, stdout, stderr io.Writer) error {
	flagSet := newFlagSet("ledger", "[--json] [--config FILE | LEDGER]", stderr)
	var configPath string
	var asJSON bool
	flagSet.StringVar(&configPath, "config", "", "read ledger.path from this configuration file")
	flagSet.BoolVar(&asJSON, "json", false, "print one JSON object per record")
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}

	var path string
	switch flagSet.NArg() {
	case 0:
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.Ledger.Path == "" {
			return errors.New("ledger.path is not set in the configuration")
		}
		path = cfg.Ledger.Path
	case 1:
		if configPath != "" {
			return process.Usagef("pass either --config or a ledger path, not both")
		}
		path = flagSet.Arg(0)
	default:
		return process.Usagef("expected at most one ledger path")
	}

	var printer recordPrinter
	if asJSON {
		printer = newJSONPrinter(stdout)
	} else {
		printer = newTablePrinter(stdout)
	}

	err := ledger.Read(path, printer.print)
	if flushErr := printer.flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	if errors.Is(err, ledger.ErrTruncated) {
		// Expected after a crash mid-append; everything before it is
		// intact.
		fmt.Fprintf(stderr, "warning: %v\n", err)
		return nil
	}
	return err
}

type recordPrinter interface {
	print(report.Record) error
	flush() error
}

type jsonPrinter struct {
	encoder *json.Encoder
}

func newJSONPrinter(w io.Writer) *jsonPrinter {
	return &jsonPrinter{encoder: json.NewEncoder(w)}
}

func (p *jsonPrinter) print(record report.Record) error { return p.encoder.Encode(record) }
func (p *jsonPrinter) flush() error                     { return nil }

type tablePrinter struct {
	writer *tabwriter.Writer
	header bool
}

func newTablePrinter(w io.Writer) *tablePrinter {
	return &tablePrinter{writer: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
}

func (p *tablePrinter) print(record report.Record) error {
	if !p.header {
		fmt.Fprintln(p.writer, "TIME\tSTATUS\tPATH\tSIZE\tDETAIL")
		p.header = true
	}
	status := record.Status
	if record.Reason != "" {
		status += "/" + record.Reason
	}
	size := "-"
	if record.Bytes > 0 {
		size = humanize.IBytes(uint64(record.Bytes))
	}
	detail := record.Artifact
	switch {
	case record.Detail != "":
		detail = record.Detail
	case record.DeleteError != "":
		detail = "delete failed: " + record.DeleteError
	case record.Deleted:
		detail += " (original deleted)"
	}
	_, err := fmt.Fprintf(p.writer, "%s\t%s\t%s\t%s\t%s\n",
		record.Time.Local().Format(time.DateTime), status, record.RelativePath, size, detail)
	return err
}

func (p *tablePrinter) flush() error { return p.writer.Flush() }

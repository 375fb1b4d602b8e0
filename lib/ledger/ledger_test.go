// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/sealdrop/lib/report"
)

func readAll(t *testing.T, path string) ([]report.Record, error) {
	t.Helper()
	var records []report.Record
	err := Read(path, func(record report.Record) error {
		records = append(records, record)
		return nil
	})
	return records, err
}

func TestWriterAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ledger.cbor")
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	first, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first.Record(context.Background(), report.Record{PassID: "1", Time: at, Path: "/in/a", Status: "encrypted", Bytes: 10})
	first.Record(context.Background(), report.Record{PassID: "2", Time: at, Path: "/in/b", Status: "skipped", Reason: "vanished"})
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	second.Record(context.Background(), report.Record{PassID: "3", Time: at, Path: "/in/c", Status: "failed", Detail: "boom"})
	second.Close()

	records, err := readAll(t, path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Read returned %d records, want 3", len(records))
	}
	for i, want := range []string{"1", "2", "3"} {
		if records[i].PassID != want {
			t.Errorf("record %d PassID = %q, want %q", i, records[i].PassID, want)
		}
	}
	if records[1].Reason != "vanished" || records[2].Detail != "boom" || !records[0].Time.Equal(at) {
		t.Errorf("records = %+v", records)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("ledger mode = %o, want 600", perm)
	}
}

func TestReadTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.cbor")
	writer, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	writer.Record(context.Background(), report.Record{Path: "/in/complete", Status: "encrypted"})
	writer.Record(context.Background(), report.Record{Path: "/in/torn", Status: "encrypted"})
	writer.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatal(err)
	}

	records, err := readAll(t, path)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("Read = %v, want ErrTruncated", err)
	}
	if len(records) != 1 || records[0].Path != "/in/complete" {
		t.Errorf("records before truncation = %+v, want the complete one", records)
	}
}

func TestOpenDropsTornRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.cbor")
	writer, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	writer.Record(context.Background(), report.Record{Path: "/in/complete", Status: "encrypted"})
	writer.Record(context.Background(), report.Record{Path: "/in/torn", Status: "encrypted"})
	writer.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatal(err)
	}

	writer, err = Open(path, nil)
	if err != nil {
		t.Fatalf("Open after a torn write: %v", err)
	}
	writer.Record(context.Background(), report.Record{Path: "/in/after", Status: "encrypted"})
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	records, err := readAll(t, path)
	if err != nil {
		t.Fatalf("Read after repair: %v", err)
	}
	if len(records) != 2 || records[0].Path != "/in/complete" || records[1].Path != "/in/after" {
		t.Errorf("records = %+v, want /in/complete then /in/after", records)
	}
}

func TestOpenRejectsDamagedLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.cbor")
	// A lone break code is not a CBOR data item.
	if err := os.WriteFile(path, []byte{0xff, 0x00}, 0o600); err != nil {
		t.Fatal(err)
	}
	if writer, err := Open(path, nil); err == nil {
		writer.Close()
		t.Fatal("Open succeeded on a damaged ledger")
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) != 2 {
		t.Errorf("damaged ledger modified by Open: %x (err %v)", data, err)
	}
}

func TestRecordAfterCloseIsDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.cbor")
	writer, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	writer.Close()
	writer.Record(context.Background(), report.Record{Path: "/in/late"})
	if err := writer.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	records, err := readAll(t, path)
	if err != nil || len(records) != 0 {
		t.Errorf("Read = %d records, %v; want an empty ledger", len(records), err)
	}
}

func TestReadMissingLedger(t *testing.T) {
	if _, err := readAll(t, filepath.Join(t.TempDir(), "absent.cbor")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Read of a missing ledger = %v, want os.ErrNotExist", err)
	}
}

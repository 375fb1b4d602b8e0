// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/agessh"
)

// ErrNoRecipients is returned when a Sealer is built without any
// recipient to encrypt to.
var ErrNoRecipients = errors.New("at least one recipient is required")

// ParseRecipients parses recipient strings. Two forms are accepted:
// native age X25519 public keys ("age1...") and SSH public keys in
// authorized_keys format ("ssh-ed25519 AAAA...", "ssh-rsa AAAA...").
func ParseRecipients(values []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		recipient, err := parseRecipient(value)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, recipient)
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	return recipients, nil
}

func parseRecipient(value string) (age.Recipient, error) {
	if strings.HasPrefix(value, "ssh-") {
		recipient, err := agessh.ParseRecipient(value)
		if err != nil {
			return nil, fmt.Errorf("parsing ssh recipient %q: %w", abbreviate(value), err)
		}
		return recipient, nil
	}
	recipient, err := age.ParseX25519Recipient(value)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient %q: %w", abbreviate(value), err)
	}
	return recipient, nil
}

// ReadRecipientsFile reads one recipient per line from path. Blank
// lines and lines starting with "#" are skipped.
func ReadRecipientsFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening recipients file: %w", err)
	}
	defer file.Close()

	var values []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		values = append(values, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading recipients file %s: %w", path, err)
	}
	return values, nil
}

// abbreviate shortens long key material for error messages.
func abbreviate(value string) string {
	if len(value) <= 24 {
		return value
	}
	return value[:20] + "..."
}

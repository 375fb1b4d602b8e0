// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathfilter decides from a path string alone whether an entry
// in the input tree is eligible for encryption. It performs no I/O, so
// the coordinator can run it on every event before spending a single
// stat call on stability polling.
package pathfilter

import (
	"path/filepath"
	"strings"
)

// Rejection reasons returned by [Filter.Reason].
const (
	ReasonHidden    = "hidden"
	ReasonTemporary = "temporary"
	ReasonArtifact  = "artifact"
	ReasonExtension = "extension"
)

// DefaultTemporarySuffixes are the suffixes editors, browsers and copy
// tools use for files that are still being written.
var DefaultTemporarySuffixes = []string{"~", ".tmp", ".temp", ".filepart", ".part", ".crdownload", ".swp"}

// Filter holds the name patterns that make an entry ineligible. The
// zero value accepts every path.
type Filter struct {
	// HiddenPrefixes mark hidden entries, normally just ".".
	HiddenPrefixes []string

	// TemporarySuffixes mark partially written files.
	TemporarySuffixes []string

	// ArtifactSuffix is the suffix the encryptor appends to its output.
	// Rejecting it stops the pipeline from re-encrypting its own
	// artifacts when the trees overlap.
	ArtifactSuffix string

	// AllowedExtensions, when non-empty, restricts processing to names
	// with one of these extensions (".csv", "pdf", ...).
	AllowedExtensions []string
}

// IsEligible reports whether path may be processed.
func (f *Filter) IsEligible(path string) bool {
	return f.Reason(path) == ""
}

// Reason returns why path is rejected, or "" when it is eligible. Only
// the final path segment is examined. Suffix and extension matching is
// case-insensitive; hidden prefixes are matched exactly.
func (f *Filter) Reason(path string) string {
	name := filepath.Base(path)
	lowered := strings.ToLower(name)

	for _, prefix := range f.HiddenPrefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return ReasonHidden
		}
	}
	for _, suffix := range f.TemporarySuffixes {
		if suffix != "" && strings.HasSuffix(lowered, strings.ToLower(suffix)) {
			return ReasonTemporary
		}
	}
	if f.ArtifactSuffix != "" && strings.HasSuffix(lowered, strings.ToLower(f.ArtifactSuffix)) {
		return ReasonArtifact
	}
	if len(f.AllowedExtensions) > 0 && !f.extensionAllowed(lowered) {
		return ReasonExtension
	}
	return ""
}

// AllowsDirectory reports whether a directory named by path may be
// processed as a whole. Directories are not subject to the extension
// allow-list.
func (f *Filter) AllowsDirectory(path string) bool {
	return f.DirectoryReason(path) == ""
}

// DirectoryReason is Reason for a directory: like Reason, minus the
// extension allow-list.
func (f *Filter) DirectoryReason(path string) string {
	if reason := f.Reason(path); reason != ReasonExtension {
		return reason
	}
	return ""
}

func (f *Filter) extensionAllowed(lowered string) bool {
	extension := filepath.Ext(lowered)
	for _, allowed := range f.AllowedExtensions {
		allowed = strings.ToLower(allowed)
		if !strings.HasPrefix(allowed, ".") {
			allowed = "." + allowed
		}
		if extension == allowed {
			return true
		}
	}
	return false
}

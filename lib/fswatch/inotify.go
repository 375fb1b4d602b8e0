// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fswatch

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

type rawEvent struct {
	wd   int
	mask uint32
	name string
}

// parseEvents decodes a buffer of raw inotify events. A truncated
// trailing event is dropped; the kernel never splits events across
// reads, so that only happens with a corrupt buffer.
//
// Inotify event layout (from inotify(7)):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, padded to alignment
//	};
func parseEvents(buffer []byte) []rawEvent {
	var events []rawEvent
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		wd := int(int32(binary.NativeEndian.Uint32(buffer[offset : offset+4])))
		mask := binary.NativeEndian.Uint32(buffer[offset+4 : offset+8])
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			break
		}

		event := rawEvent{wd: wd, mask: mask}
		if nameLength > 0 {
			event.name = nullTerminatedString(buffer[offset+unix.SizeofInotifyEvent : offset+eventSize])
		}
		events = append(events, event)
		offset += eventSize
	}
	return events
}

// nullTerminatedString extracts a string from a null-padded byte slice.
func nullTerminatedString(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

// Package backend implements spec.md §4.3's binary wire protocol and
// connection pool, plus a local on-disk backend and an optional Redis stat
// cache (SPEC_FULL.md §4.3). Grounded directly on
// original_source/syncrypt/backends/binary.py's BinaryStorageConnection /
// BinaryStorageManager.
package backend

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/dsatori/syncrypt/internal/syncerr"
)

const protocolVersion = "Syncrypt 1.0"

// writeLine writes s followed by \r\n and flushes.
func writeLine(w *bufio.Writer, s string) error {
	if _, err := w.WriteString(s + "\r\n"); err != nil {
		return syncerr.New(syncerr.KindIOError, "backend.writeLine", err)
	}
	return w.Flush()
}

// readLine reads a single \r\n (or \n) terminated line, with the
// terminator stripped.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", syncerr.New(syncerr.KindIOError, "backend.readLine", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readDecimal reads a line and parses it as a base-10 integer.
func readDecimal(r *bufio.Reader) (int64, error) {
	line, err := readLine(r)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, syncerr.New(syncerr.KindProtocolError, "backend.readDecimal", fmt.Errorf("not a number: %q", line))
	}
	return n, nil
}

// Package bootloader writes the GRUB configuration fragment that tells
// a device's bootloader which menu entry to chain to on its next boot.
package bootloader

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Sentinel error kinds, matching spec.md's bootloader-writer taxonomy.
var (
	ErrOpenFailed  = errors.New("failed to open bootloader config file")
	ErrWriteFailed = errors.New("failed to write bootloader config file")
)

// Configure truncates the file at path and writes exactly:
//
//	set samwise_entry="<menuEntry>"
//	export samwise_entry
//
// The file must already exist; the TFTP server owns its permissions,
// so this never creates it. menuEntry is quoted with Go's %q verb, so
// a double quote or backslash in it is written backslash-escaped, and
// control characters are written as Go escape sequences.
func Configure(path, menuEntry string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return errors.Wrap(ErrOpenFailed, err.Error())
	}
	defer f.Close()

	content := fmt.Sprintf("set samwise_entry=%q\nexport samwise_entry\n", menuEntry)
	if _, err := f.WriteString(content); err != nil {
		return errors.Wrap(ErrWriteFailed, err.Error())
	}
	return nil
}

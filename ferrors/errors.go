// Package ferrors defines the closed error taxonomy shared by every
// fragmenter component and the platform-error classifier that produces it.
package ferrors

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"
)

// Code is one of the closed set of error kinds a fragmenter operation can fail with.
type Code string

const (
	PermissionsError            Code = "PermissionsError"
	ResourcesBusy               Code = "ResourcesBusy"
	NoSpaceOnDevice             Code = "NoSpaceOnDevice"
	MaxModuleRetries            Code = "MaxModuleRetries"
	FileNotFound                Code = "FileNotFound"
	DirectoryNotEmpty           Code = "DirectoryNotEmpty"
	NotADirectory               Code = "NotADirectory"
	ModuleJsonInvalid           Code = "ModuleJsonInvalid"
	ModuleCrcMismatch           Code = "ModuleCrcMismatch"
	UserAborted                 Code = "UserAborted"
	NetworkError                Code = "NetworkError"
	CorruptedZipFile            Code = "CorruptedZipFile"
	InvalidOptions              Code = "InvalidOptions"
	InvalidParameters           Code = "InvalidParameters"
	InvalidDistributionManifest Code = "InvalidDistributionManifest"
	DownloadStreamClosed        Code = "DownloadStreamClosed"
	Unknown                     Code = "Unknown"
)

// unrecoverable is the set of codes that must abort a retry loop immediately (§7).
var unrecoverable = map[Code]bool{
	PermissionsError:  true,
	NoSpaceOnDevice:   true,
	MaxModuleRetries:  true,
	FileNotFound:      true,
	DirectoryNotEmpty: true,
	NotADirectory:     true,
}

// Error is the typed error every public fragmenter operation rejects with.
type Error struct {
	Code   Code
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("FragmenterError(%s)", e.Code)
	}
	return fmt.Sprintf("FragmenterError(%s): %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a typed error directly from a code, with no underlying cause.
func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Wrap classifies cause (per the platform-error table in §7) and attaches
// detail. A cause that already is (or wraps) an *Error is returned as that
// *Error unchanged, without the new detail.
func Wrap(cause error, detail string) *Error {
	if cause == nil {
		return nil
	}
	var already *Error
	if errors.As(cause, &already) {
		return already
	}
	return &Error{Code: Classify(cause), Detail: detail, Cause: cause}
}

// IsUnrecoverable reports whether code must short-circuit a retry loop rather than be retried.
func IsUnrecoverable(code Code) bool {
	return unrecoverable[code]
}

// IsUnrecoverableErr is the error-valued convenience form of IsUnrecoverable.
func IsUnrecoverableErr(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return IsUnrecoverable(fe.Code)
	}
	return false
}

// CodeOf extracts the Code of err, or Unknown if err is not a *Error.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return Unknown
}

// corruptionMarkers are substrings of zip-library errors that indicate a
// recoverable transport corruption rather than a genuinely malformed archive.
var corruptionMarkers = []string{
	"end of central directory record signature not found",
	"unexpected EOF",
	"zip: not a valid zip file",
	"zip: checksum error",
}

// Classify maps a transport/filesystem error to its Code per the §7 table:
// EACCES/EPERM → Permissions; EBUSY → ResourcesBusy; ENOSPC → NoSpaceOnDevice;
// ENOENT → FileNotFound; ENOTEMPTY → DirectoryNotEmpty; ENOTDIR → NotADirectory;
// ECONNRESET/ENOTFOUND-equivalents → NetworkError; known zip corruption
// messages → CorruptedZipFile; everything else → Unknown.
func Classify(err error) Code {
	if err == nil {
		return Unknown
	}

	if errors.Is(err, os.ErrPermission) {
		return PermissionsError
	}
	if errors.Is(err, os.ErrNotExist) {
		return FileNotFound
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EACCES, syscall.EPERM:
			return PermissionsError
		case syscall.EBUSY:
			return ResourcesBusy
		case syscall.ENOSPC:
			return NoSpaceOnDevice
		case syscall.ENOENT:
			return FileNotFound
		case syscall.ENOTEMPTY:
			return DirectoryNotEmpty
		case syscall.ENOTDIR:
			return NotADirectory
		case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ETIMEDOUT:
			return NetworkError
		}
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return Classify(pathErr.Err)
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return Classify(linkErr.Err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NetworkError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NetworkError
	}

	msg := err.Error()
	for _, marker := range corruptionMarkers {
		if strings.Contains(msg, marker) {
			return CorruptedZipFile
		}
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "broken pipe") {
		return NetworkError
	}

	return Unknown
}

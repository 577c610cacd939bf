package ferrors

import (
	"errors"
	"os"
	"syscall"
	"testing"
)

func TestClassifyPlatformErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"permission", &os.PathError{Op: "open", Path: "x", Err: syscall.EACCES}, PermissionsError},
		{"busy", &os.PathError{Op: "open", Path: "x", Err: syscall.EBUSY}, ResourcesBusy},
		{"nospace", &os.PathError{Op: "write", Path: "x", Err: syscall.ENOSPC}, NoSpaceOnDevice},
		{"notexist", &os.PathError{Op: "open", Path: "x", Err: syscall.ENOENT}, FileNotFound},
		{"notempty", &os.PathError{Op: "rmdir", Path: "x", Err: syscall.ENOTEMPTY}, DirectoryNotEmpty},
		{"notdir", &os.PathError{Op: "open", Path: "x", Err: syscall.ENOTDIR}, NotADirectory},
		{"oserrnotexist", os.ErrNotExist, FileNotFound},
		{"oserrperm", os.ErrPermission, PermissionsError},
		{"corrupted zip", errors.New("zip: end of central directory record signature not found"), CorruptedZipFile},
		{"unknown", errors.New("something weird"), Unknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestErrorMessageFormat(t *testing.T) {
	err := New(ModuleCrcMismatch, "module foo hash mismatch")
	want := "FragmenterError(ModuleCrcMismatch): module foo hash mismatch"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := New(UserAborted, "")
	if bare.Error() != "FragmenterError(UserAborted)" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestWrapPreservesAlreadyTypedError(t *testing.T) {
	inner := New(MaxModuleRetries, "exhausted")
	wrapped := Wrap(inner, "retry loop")
	if wrapped != inner {
		t.Errorf("Wrap should return the already-typed error unchanged, got %v", wrapped)
	}
}

func TestIsUnrecoverable(t *testing.T) {
	for code := range unrecoverable {
		if !IsUnrecoverable(code) {
			t.Errorf("%s should be unrecoverable", code)
		}
	}
	if IsUnrecoverable(NetworkError) {
		t.Error("NetworkError should be recoverable")
	}
	if IsUnrecoverable(CorruptedZipFile) {
		t.Error("CorruptedZipFile should be recoverable")
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := Wrap(errors.New("connection reset by peer"), "download")
	if CodeOf(wrapped) != NetworkError {
		t.Errorf("CodeOf = %s, want NetworkError", CodeOf(wrapped))
	}
	if CodeOf(errors.New("plain")) != Unknown {
		t.Error("CodeOf on a non-Error should be Unknown")
	}
}

package provision

import "io"

// PtyHandle abstracts PTY operations across platforms. On Unix this wraps
// creack/pty (*os.File); a Windows ConPTY implementation would satisfy the
// same interface.
type PtyHandle interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}

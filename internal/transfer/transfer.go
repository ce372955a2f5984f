// Package transfer implements directory listing and streamed file
// upload/download over a session's SFTP sub-channel.
package transfer

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/sftp"

	"github.com/halyard-ssh/halyard/internal/session"
)

// FileEntry describes one remote directory entry. Perm is the octal
// permission string ("0644"); Kind is "file" or "directory".
type FileEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Kind    string    `json:"kind"`
	Perm    string    `json:"perm"`
	ModTime time.Time `json:"mod_time"`
}

// Engine performs file operations over the registry's cached per-session
// SFTP sub-channel. Operations on one session serialize on that channel;
// the engine adds no queuing or throttling of its own.
type Engine struct {
	reg *session.Registry
}

func NewEngine(reg *session.Registry) *Engine {
	return &Engine{reg: reg}
}

// List returns the entries of a remote directory. An empty directory is an
// empty slice, not an error.
func (e *Engine) List(id, path string) ([]FileEntry, error) {
	client, release, err := e.reg.AcquireFileClient(id)
	if err != nil {
		return nil, err
	}
	defer release()

	infos, err := client.ReadDir(path)
	if err != nil {
		return nil, &session.TransportError{SessionID: id, Op: "list " + path, Err: err}
	}

	entries := make([]FileEntry, 0, len(infos))
	for _, fi := range infos {
		kind := "file"
		if fi.IsDir() {
			kind = "directory"
		}
		mod := fi.ModTime()
		// The wire format carries mtime as epoch seconds.
		if st, ok := fi.Sys().(*sftp.FileStat); ok && st.Mtime > 0 {
			mod = time.Unix(int64(st.Mtime), 0)
		}
		entries = append(entries, FileEntry{
			Name:    fi.Name(),
			Size:    fi.Size(),
			Kind:    kind,
			Perm:    fmt.Sprintf("%04o", fi.Mode().Perm()),
			ModTime: mod,
		})
	}
	return entries, nil
}

// Upload streams a local file to the remote path. On failure a partial
// remote file may remain; no cleanup is attempted.
func (e *Engine) Upload(id, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	client, release, err := e.reg.AcquireFileClient(id)
	if err != nil {
		return err
	}
	defer release()

	dst, err := client.Create(remotePath)
	if err != nil {
		return &session.TransportError{SessionID: id, Op: "create " + remotePath, Err: err}
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return &session.TransportError{SessionID: id, Op: "upload " + remotePath, Err: err}
	}
	if err := dst.Close(); err != nil {
		return &session.TransportError{SessionID: id, Op: "close " + remotePath, Err: err}
	}
	return nil
}

// Download streams a remote file to the local path. Same partial-write
// semantics as Upload.
func (e *Engine) Download(id, remotePath, localPath string) error {
	client, release, err := e.reg.AcquireFileClient(id)
	if err != nil {
		return err
	}
	defer release()

	src, err := client.Open(remotePath)
	if err != nil {
		return &session.TransportError{SessionID: id, Op: "open " + remotePath, Err: err}
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return &session.TransportError{SessionID: id, Op: "download " + remotePath, Err: err}
	}
	return dst.Close()
}

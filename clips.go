/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

type ClipRole string

const (
	RoleLead      ClipRole = "lead"
	RoleReplicate ClipRole = "rep"
)

// ClipStore keeps recorded clips under {code}/round_{n}/. References handed
// out are relative to the session directory.
type ClipStore struct {
	fs afero.Fs
}

func newClipStore(fsys afero.Fs) *ClipStore {
	return &ClipStore{fs: fsys}
}

func newDiskClipStore(dir string) (*ClipStore, error) {
	if err := afero.NewOsFs().MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return newClipStore(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

func (cs *ClipStore) Store(code string, round int, role ClipRole, playerID string, data []byte, contentType string) (string, error) {
	ext := sniffExt(data)
	if ext == "" {
		ext = extFromContentType(contentType)
	}

	var name string
	switch role {
	case RoleReplicate:
		name = fmt.Sprintf("%s_%s_%s%s", role, playerID, uuid.NewString(), ext)
	default:
		name = fmt.Sprintf("%s_%s%s", role, uuid.NewString(), ext)
	}

	ref := path.Join(fmt.Sprintf("round_%d", round), name)

	full, err := clipPath(code, ref)
	if err != nil {
		return "", err
	}

	if err := cs.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("store clip: %w", err)
	}

	if err := afero.WriteFile(cs.fs, full, data, 0o644); err != nil {
		return "", fmt.Errorf("store clip: %w", err)
	}

	return ref, nil
}

// Open returns the clip stored under ref. Missing files, directories and
// references escaping the session directory all report ErrClipNotFound.
func (cs *ClipStore) Open(code, ref string) (afero.File, fs.FileInfo, error) {
	full, err := clipPath(code, ref)
	if err != nil {
		return nil, nil, err
	}

	f, err := cs.fs.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%s: %w", ref, ErrClipNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%s: %w", ref, ErrClipNotFound)
	}

	return f, info, nil
}

func (cs *ClipStore) Remove(code, ref string) error {
	full, err := clipPath(code, ref)
	if err != nil {
		return err
	}

	return cs.fs.Remove(full)
}

// Purge deletes every clip stored for a session.
func (cs *ClipStore) Purge(code string) error {
	if code == "" || normalizeCode(code) != code {
		return fmt.Errorf("purge %q: invalid session code", code)
	}

	return cs.fs.RemoveAll(code)
}

func clipPath(code, ref string) (string, error) {
	if code == "" || normalizeCode(code) != code {
		return "", fmt.Errorf("invalid session code %q: %w", code, ErrClipNotFound)
	}

	clean := path.Clean("/" + strings.ReplaceAll(ref, "\\", "/"))
	if clean == "/" {
		return "", fmt.Errorf("empty clip name: %w", ErrClipNotFound)
	}

	return filepath.Join(code, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

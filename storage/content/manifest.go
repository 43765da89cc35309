package content

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wholesum/bazaar/model/encoding/cbor"
)

// ManifestVersion marks a blob as a directory manifest.
const ManifestVersion = "wholesum/dir/1"

// Manifest lists the entries of a directory. A directory is uploaded as one
// blob per file plus the manifest, whose CID is the CID of the directory.
type Manifest struct {
	Version string           `cbor:"1,keyasint"`
	Entries map[string]Entry `cbor:"2,keyasint"`
}

// Entry is one file, or nested directory, of a manifest.
type Entry struct {
	CID string `cbor:"1,keyasint"`
	Dir bool   `cbor:"2,keyasint,omitempty"`
}

// UploadDirectory uploads files, keyed by their slash separated path, and
// returns the CID of the root manifest.
func UploadDirectory(ctx context.Context, up Uploader, files map[string][]byte) (string, error) {
	root := newDirNode()
	for path, data := range files {
		parts, err := splitPath(path)
		if err != nil {
			return "", err
		}
		if err := root.insert(parts, data); err != nil {
			return "", fmt.Errorf("invalid path %q: %w", path, err)
		}
	}
	return root.upload(ctx, up)
}

// FetchPath resolves path under the directory base and returns the file content.
func FetchPath(ctx context.Context, f Fetcher, base string, path string) ([]byte, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, NewStorageError(MissingEntry, base, err)
	}

	current := base
	for i, name := range parts {
		manifest, err := FetchManifest(ctx, f, current)
		if err != nil {
			return nil, err
		}
		entry, ok := manifest.Entries[name]
		if !ok {
			return nil, NewStorageErrorf(MissingEntry, current, "no entry %q", name)
		}
		last := i == len(parts)-1
		if entry.Dir == last {
			return nil, NewStorageErrorf(MissingEntry, current, "entry %q has the wrong type", name)
		}
		current = entry.CID
	}
	return f.Fetch(ctx, current)
}

// FetchManifest fetches and decodes the manifest stored under c.
func FetchManifest(ctx context.Context, f Fetcher, c string) (*Manifest, error) {
	data, err := f.Fetch(ctx, c)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := cbor.DecMode.Unmarshal(data, &manifest); err != nil {
		return nil, NewStorageError(Corrupted, c, fmt.Errorf("not a directory manifest: %w", err))
	}
	if manifest.Version != ManifestVersion {
		return nil, NewStorageErrorf(Corrupted, c, "unsupported manifest version %q", manifest.Version)
	}
	return &manifest, nil
}

func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return nil, fmt.Errorf("invalid path segment in %q", path)
		}
	}
	return parts, nil
}

type dirNode struct {
	files map[string][]byte
	dirs  map[string]*dirNode
}

func newDirNode() *dirNode {
	return &dirNode{files: make(map[string][]byte), dirs: make(map[string]*dirNode)}
}

func (d *dirNode) insert(parts []string, data []byte) error {
	name := parts[0]
	if len(parts) == 1 {
		if _, ok := d.dirs[name]; ok {
			return fmt.Errorf("%q is a directory", name)
		}
		d.files[name] = data
		return nil
	}
	if _, ok := d.files[name]; ok {
		return fmt.Errorf("%q is a file", name)
	}
	child, ok := d.dirs[name]
	if !ok {
		child = newDirNode()
		d.dirs[name] = child
	}
	return child.insert(parts[1:], data)
}

func (d *dirNode) upload(ctx context.Context, up Uploader) (string, error) {
	manifest := Manifest{Version: ManifestVersion, Entries: make(map[string]Entry, len(d.files)+len(d.dirs))}

	names := make([]string, 0, len(d.files))
	for name := range d.files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c, err := up.Upload(ctx, d.files[name])
		if err != nil {
			return "", fmt.Errorf("could not upload %s: %w", name, err)
		}
		manifest.Entries[name] = Entry{CID: c}
	}

	for name, child := range d.dirs {
		c, err := child.upload(ctx, up)
		if err != nil {
			return "", err
		}
		manifest.Entries[name] = Entry{CID: c, Dir: true}
	}

	data, err := cbor.EncMode.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("could not encode manifest: %w", err)
	}
	return up.Upload(ctx, data)
}

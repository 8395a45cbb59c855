package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/daybook-app/daybook/client/store"
	"github.com/klauspost/compress/gzip"
)

const (
	// Path of the serialized key/value dump inside the archive
	StoreArchivePath = "data/store.json"
	// Prefix under which cached attachments are stored inside the archive
	ImagesArchivePrefix = "images/"
)

// Attachment files with other extensions are not part of a snapshot.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".heic"}

// Progress is one status update from a backup or restore operation. Percent
// values are monotonically non-decreasing within one operation; Bytes is only
// meaningful for the updates that carry a payload size.
type Progress struct {
	Stage   string
	Percent int
	Bytes   int64
}

type ProgressFunc func(Progress)

func nopProgress(Progress) {}

// Attachments is the filesystem-like area holding locally cached binary
// attachments. Satisfied by store.AttachmentDir.
type Attachments interface {
	List(ctx context.Context) ([]string, error)
	ReadBinary(ctx context.Context, name string) ([]byte, error)
	WriteBinary(ctx context.Context, name string, contents []byte) error
}

// BuildArchive serializes the entire local store plus every cached image into
// one gzip-compressed tar. The archive has no internal versioning: it is "all
// data as of this moment". Any read error is fatal; there is no
// partial-archive fallback.
func BuildArchive(ctx context.Context, st store.Store, attachments Attachments, onProgress ProgressFunc) ([]byte, error) {
	if onProgress == nil {
		onProgress = nopProgress
	}
	onProgress(Progress{Stage: "preparing", Percent: 0})

	keys, err := st.ListAllKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate store keys for backup: %w", err)
	}
	pairs, err := st.GetAll(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to dump the local store for backup: %w", err)
	}
	storeBlob, err := json.Marshal(pairs)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize the local store dump: %w", err)
	}
	onProgress(Progress{Stage: "preparing", Percent: 10})

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	if err := writeTarFile(tw, StoreArchivePath, storeBlob); err != nil {
		return nil, err
	}

	names, err := attachments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments for backup: %w", err)
	}
	images := make([]string, 0, len(names))
	for _, name := range names {
		if IsImageFile(name) {
			images = append(images, name)
		}
	}
	for i, name := range images {
		contents, err := attachments.ReadBinary(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %q for backup: %w", name, err)
		}
		if err := writeTarFile(tw, ImagesArchivePrefix+name, contents); err != nil {
			return nil, err
		}
		onProgress(Progress{Stage: "compressing", Percent: 10 + 50*(i+1)/len(images)})
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize backup archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress backup archive: %w", err)
	}

	// Best-effort size estimate; the upload phase supersedes it with the
	// exact transferred byte count.
	onProgress(Progress{Stage: "compressing", Percent: 60, Bytes: int64(buf.Len())})
	return buf.Bytes(), nil
}

func writeTarFile(tw *tar.Writer, name string, contents []byte) error {
	err := tw.WriteHeader(&tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(contents)),
	})
	if err != nil {
		return fmt.Errorf("failed to add %q to the backup archive: %w", name, err)
	}
	if _, err := tw.Write(contents); err != nil {
		return fmt.Errorf("failed to write %q into the backup archive: %w", name, err)
	}
	return nil
}

func IsImageFile(name string) bool {
	lowered := strings.ToLower(name)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lowered, ext) {
			return true
		}
	}
	return false
}

// readArchive decompresses an archive and returns its entries by path.
func readArchive(archive []byte) (map[string][]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress backup archive: %w", err)
	}
	defer gz.Close()

	entries := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read backup archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		contents, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q from backup archive: %w", header.Name, err)
		}
		entries[header.Name] = contents
	}
	return entries, nil
}

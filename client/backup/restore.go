package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/daybook-app/daybook/client/store"
)

// Restore downloads the remote snapshot and replays it: the key/value dump is
// bulk-written into the local store in one transaction, then every archived
// attachment is written out, and all of those writes are awaited before
// success is reported. Partial attachment restoration is never reported as
// success. There is no rollback of already-written keys; a retry is safe
// because the bulk write is atomic and merges are idempotent.
func Restore(ctx context.Context, transport *DriveTransport, st store.Store, attachments Attachments, onProgress ProgressFunc) error {
	if onProgress == nil {
		onProgress = nopProgress
	}

	archive, err := transport.Download(ctx, onProgress)
	if err != nil {
		return err
	}

	onProgress(Progress{Stage: "processing", Percent: 40})
	entries, err := readArchive(archive)
	if err != nil {
		return err
	}

	storeBlob, ok := entries[StoreArchivePath]
	if !ok {
		return fmt.Errorf("backup archive is missing its data dump (%s)", StoreArchivePath)
	}
	var pairs map[string]string
	if err := json.Unmarshal(storeBlob, &pairs); err != nil {
		return fmt.Errorf("failed to parse the archived store dump: %w", err)
	}

	onProgress(Progress{Stage: "restoring data", Percent: 60})
	if err := st.BulkSet(ctx, pairs); err != nil {
		return fmt.Errorf("failed to restore the local store: %w", err)
	}

	onProgress(Progress{Stage: "restoring images", Percent: 80})
	g, gctx := errgroup.WithContext(ctx)
	for name, contents := range entries {
		if !strings.HasPrefix(name, ImagesArchivePrefix) {
			continue
		}
		name, contents := name, contents
		g.Go(func() error {
			return attachments.WriteBinary(gctx, strings.TrimPrefix(name, ImagesArchivePrefix), contents)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to restore attachments, local data may be inconsistent: %w", err)
	}

	onProgress(Progress{Stage: "complete", Percent: 100})
	return nil
}

package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/daybook-app/daybook/client/hctx"
	"github.com/daybook-app/daybook/client/sync"
)

// BackupFileName is the fixed, well-known name of the snapshot artifact in
// the provider's private application-data scope. There is never more than one
// of them after a successful backup.
const BackupFileName = "daybook_backup.tar.gz"

const appDataFolder = "appDataFolder"

// ErrNoBackupFound means a restore was attempted with nothing to restore.
// This is a normal, expected outcome, not a defect.
var ErrNoBackupFound = errors.New("no backup found")

// DriveTransport talks to the backup object store. It authenticates with a
// provider access token, which is distinct from the app's own session
// credential.
type DriveTransport struct {
	service *drive.Service
}

// NewDriveTransport builds a transport from a provider access token. Extra
// options are for tests pointing at a fake server.
func NewDriveTransport(ctx context.Context, accessToken string, opts ...option.ClientOption) (*DriveTransport, error) {
	clientOpts := append([]option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
		option.WithScopes(drive.DriveAppdataScope),
	}, opts...)
	service, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup store client: %w", err)
	}
	return &DriveTransport{service: service}, nil
}

func (t *DriveTransport) listBackups(ctx context.Context) ([]*drive.File, error) {
	resp, err := t.service.Files.List().
		Spaces(appDataFolder).
		Q(fmt.Sprintf("name = '%s'", BackupFileName)).
		Fields("files(id, name, size)").
		Context(ctx).Do()
	if err != nil {
		return nil, classifyDriveError(err)
	}
	return resp.Files, nil
}

// DeleteExisting removes every remote backup artifact, however many there
// are, and returns how many were deleted. It runs unconditionally before each
// upload and is also callable directly by the user.
func (t *DriveTransport) DeleteExisting(ctx context.Context) (int, error) {
	files, err := t.listBackups(ctx)
	if err != nil {
		return 0, err
	}
	for _, file := range files {
		if err := t.service.Files.Delete(file.Id).Context(ctx).Do(); err != nil {
			return 0, classifyDriveError(err)
		}
	}
	return len(files), nil
}

// Upload pushes an archive as the single backup artifact and returns the
// transferred byte count. Prior artifacts are deleted first, so at most one
// exists afterwards. No retry is attempted here; callers decide.
func (t *DriveTransport) Upload(ctx context.Context, archive []byte, onProgress ProgressFunc) (int64, error) {
	if onProgress == nil {
		onProgress = nopProgress
	}
	if _, err := t.DeleteExisting(ctx); err != nil {
		return 0, err
	}

	onProgress(Progress{Stage: "uploading", Percent: 65})
	total := int64(len(archive))
	_, err := t.service.Files.Create(&drive.File{
		Name:    BackupFileName,
		Parents: []string{appDataFolder},
	}).
		Media(bytes.NewReader(archive), googleapi.ContentType("application/gzip")).
		ProgressUpdater(func(current, _ int64) {
			if total > 0 {
				onProgress(Progress{Stage: "uploading", Percent: 65 + int(current*34/total), Bytes: current})
			}
		}).
		Context(ctx).Do()
	if err != nil {
		return 0, classifyDriveError(err)
	}

	// The final update carries the exact transferred byte count, superseding
	// the compression-phase estimate.
	onProgress(Progress{Stage: "uploaded", Percent: 100, Bytes: total})
	return total, nil
}

// Download fetches the current backup artifact. When the cleanup invariant
// has been violated and several artifacts exist, the first one returned is
// used rather than erroring.
func (t *DriveTransport) Download(ctx context.Context, onProgress ProgressFunc) ([]byte, error) {
	if onProgress == nil {
		onProgress = nopProgress
	}
	onProgress(Progress{Stage: "searching", Percent: 0})
	files, err := t.listBackups(ctx)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoBackupFound
	}
	if len(files) > 1 {
		hctx.GetLogger().Warnf("found %d backup artifacts where at most one was expected, restoring the first", len(files))
	}

	onProgress(Progress{Stage: "downloading", Percent: 10})
	resp, err := t.service.Files.Get(files[0].Id).Context(ctx).Download()
	if err != nil {
		return nil, classifyDriveError(err)
	}
	defer resp.Body.Close()
	archive, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("network failure while downloading the backup: %w", err)
	}
	return archive, nil
}

// classifyDriveError separates "the provider said no" (carrying its status
// and message) from plain network failures.
func classifyDriveError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &sync.RemoteRejectedError{StatusCode: gerr.Code, Message: gerr.Message}
	}
	return fmt.Errorf("network failure talking to the backup store: %w", err)
}

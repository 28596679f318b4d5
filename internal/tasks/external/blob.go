// Package external implements a multi-replica-safe tasks.Store backed by Azure Blob
// Storage, required for the http/sse transports (spec §6). Grounded on
// JeffreyRichter-MCP/mcpsvr/resources/azresources/store.go: one container for all
// sessions, one blob per (session, task), ETag-guarded read-modify-write, with a relative blob expiry used in
// place of the local store's sweep goroutine.
package external

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/apify/apify-mcp-server-sub001/internal/tasks"
)

const maxTaskBlobBytes = 4 * 1024 * 1024

// Store persists Task Records as blobs named "<sessionID>/<taskID>" within a single
// container, relying on blob ETags for the read-then-write races the spec requires
// (cancellation-before-working, idempotent result writes).
type Store struct {
	client    *azblob.Client
	container string
}

// New wraps an already-authenticated azblob.Client. container is created lazily on first
// write, mirroring the teacher's "retry on ContainerNotFound" idiom.
func New(client *azblob.Client, container string) *Store {
	return &Store{client: client, container: container}
}

type blobRecord struct {
	tasks.Task
}

func (s *Store) blobName(sessionID, taskID string) string { return sessionID + "/" + taskID }

func (s *Store) downloadTask(ctx context.Context, sessionID, taskID string) (*tasks.Task, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.blobName(sessionID, taskID), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, tasks.ErrNotFound
		}
		return nil, err
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxTaskBlobBytes))
	if err != nil {
		return nil, err
	}
	var rec blobRecord
	if err := json.Unmarshal(buf, &rec); err != nil {
		return nil, err
	}
	return &rec.Task, nil
}

func (s *Store) uploadTask(ctx context.Context, t *tasks.Task, ifMatchETag *string) error {
	buf, err := json.Marshal(blobRecord{*t})
	if err != nil {
		return err
	}
	var ac *blob.AccessConditions
	if ifMatchETag != nil {
		etag := azcore.ETag(*ifMatchETag)
		ac = &blob.AccessConditions{ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &etag}}
	}
	for {
		_, err := s.client.UploadBuffer(ctx, s.container, s.blobName(t.SessionID, t.ID), buf,
			&azblob.UploadBufferOptions{AccessConditions: ac})
		if err == nil {
			blockClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlockBlobClient(s.blobName(t.SessionID, t.ID))
			ttl := t.TTL
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}
			_, _ = blockClient.SetExpiry(ctx, blockblob.ExpiryTypeRelativeToNow(ttl), nil)
			return nil
		}
		if !bloberror.HasCode(err, bloberror.ContainerNotFound) {
			return err
		}
		if _, cerr := s.client.CreateContainer(ctx, s.container, nil); cerr != nil {
			return cerr
		}
	}
}

func (s *Store) CreateTask(opts tasks.CreateOptions) (*tasks.Task, error) {
	t := &tasks.Task{
		ID:        opts.ID,
		SessionID: opts.SessionID,
		ToolName:  opts.ToolName,
		Status:    tasks.StatusSubmitted,
		CreatedAt: time.Now(),
		TTL:       opts.TTL,
		Request:   opts.Request,
	}
	return t, s.uploadTask(context.Background(), t, nil)
}

func (s *Store) UpdateStatus(id, sessionID string, status tasks.Status, message string) error {
	ctx := context.Background()
	t, err := s.downloadTask(ctx, sessionID, id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return tasks.ErrTerminalTransition
	}
	t.Status = status
	t.StatusMessage = message
	return s.uploadTask(ctx, t, nil)
}

func (s *Store) StoreResult(id, sessionID string, terminalStatus tasks.Status, result interface{}) error {
	if err := tasks.ValidateResultWrite(terminalStatus); err != nil {
		return err
	}
	ctx := context.Background()
	t, err := s.downloadTask(ctx, sessionID, id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() && t.Status != terminalStatus {
		return tasks.ErrTerminalTransition
	}
	t.Status = terminalStatus
	t.Result = result
	return s.uploadTask(ctx, t, nil)
}

func (s *Store) GetTask(id, sessionID string) (*tasks.Task, error) {
	return s.downloadTask(context.Background(), sessionID, id)
}

func (s *Store) GetResult(id, sessionID string) (interface{}, error) {
	t, err := s.downloadTask(context.Background(), sessionID, id)
	if err != nil {
		return nil, err
	}
	if !t.Status.Terminal() {
		return nil, tasks.ErrNotTerminal
	}
	return t.Result, nil
}

// ListTasks lists every blob under the session's virtual prefix. Azure blob listing is
// itself paginated; cursor is threaded straight through to the service's continuation
// token (spec §4.5 "listTasks(cursor?, sessionId) (paginated)").
func (s *Store) ListTasks(sessionID, cursor string) (tasks.Page, error) {
	ctx := context.Background()
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: ptr(sessionID + "/"),
		Marker: optionalPtr(cursor),
	})
	if !pager.More() {
		return tasks.Page{}, nil
	}
	page, err := pager.NextPage(ctx)
	if err != nil {
		return tasks.Page{}, err
	}
	var out []*tasks.Task
	for _, item := range page.Segment.BlobItems {
		if item.Name == nil {
			continue
		}
		taskID := (*item.Name)[len(sessionID)+1:]
		t, err := s.downloadTask(ctx, sessionID, taskID)
		if errors.Is(err, tasks.ErrNotFound) {
			continue
		}
		if err != nil {
			return tasks.Page{}, err
		}
		out = append(out, t)
	}
	next := ""
	if page.NextMarker != nil {
		next = *page.NextMarker
	}
	return tasks.Page{Tasks: out, NextCursor: next}, nil
}

func (s *Store) Cancel(id, sessionID, message string) error {
	ctx := context.Background()
	t, err := s.downloadTask(ctx, sessionID, id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return tasks.ErrTerminalTransition
	}
	t.Status = tasks.StatusCancelled
	t.StatusMessage = message
	return s.uploadTask(ctx, t, nil)
}

func ptr(s string) *string { return &s }

func optionalPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ tasks.Store = (*Store)(nil)

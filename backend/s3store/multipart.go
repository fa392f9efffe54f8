package s3store

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/internal"
)

const sessionScheme = "s3-multipart://"

const (
	// MinPartSize is the smallest part S3 accepts before the last one.
	MinPartSize = 5 << 20
	MaxPartSize = 5 << 30
)

// multipart tracks one CreateMultipartUpload. Every part except the last
// must be at least MinPartSize.
type multipart struct {
	key      string
	name     string
	uploadID string
	total    int64
	written  int64
	parts    []types.CompletedPart
}

func (s *Store) OpenSession(ctx context.Context, parentID, name string, size int64) (string, error) {
	if !validName(name) {
		return "", &backend.SessionError{Op: "open", Status: http.StatusBadRequest, Msg: fmt.Sprintf("invalid name %q", name)}
	}
	parent := s.prefix(parentID)

	s.mu.Lock()
	defer s.mu.Unlock()
	final, err := s.freeName(ctx, parent, name)
	if err != nil {
		return "", err
	}
	key := parent + final
	out, err := s.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", &backend.SessionError{Op: "open", Status: statusOf(err), Err: err}
	}

	id := uuid.NewString()
	s.sessions[id] = &multipart{
		key:      key,
		name:     final,
		uploadID: aws.ToString(out.UploadId),
		total:    size,
	}
	return sessionScheme + id, nil
}

func (s *Store) PutRange(ctx context.Context, uploadURL string, data []byte, offset, total int64) (backend.RangeResult, error) {
	id := strings.TrimPrefix(uploadURL, sessionScheme)

	s.mu.Lock()
	defer s.mu.Unlock()
	mp, ok := s.sessions[id]
	if !ok {
		return backend.RangeResult{}, &backend.SessionError{Op: "put range", Status: http.StatusNotFound, Msg: "unknown upload session"}
	}
	end := offset + int64(len(data))
	if total != mp.total || offset != mp.written || end > mp.total {
		return backend.RangeResult{}, &backend.SessionError{
			Op:     "put range",
			Status: http.StatusRequestedRangeNotSatisfiable,
			Msg:    fmt.Sprintf("bytes %d-%d/%d, expected offset %d of %d", offset, end-1, total, mp.written, mp.total),
		}
	}

	partNumber := int32(len(mp.parts) + 1)
	out, err := s.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(mp.key),
		UploadId:      aws.String(mp.uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		se := &backend.SessionError{Op: "put range", Status: statusOf(err), Err: err}
		if !se.Transient() {
			delete(s.sessions, id)
			_ = s.abort(ctx, mp)
		}
		return backend.RangeResult{}, se
	}
	mp.parts = append(mp.parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNumber)})
	mp.written = end
	if mp.written < mp.total {
		return backend.RangeResult{}, nil
	}

	delete(s.sessions, id)
	_, err = s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(mp.key),
		UploadId:        aws.String(mp.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: mp.parts},
	})
	if err != nil {
		_ = s.abort(ctx, mp)
		return backend.RangeResult{}, &backend.SessionError{Op: "complete", Status: statusOf(err), Err: err}
	}
	return backend.RangeResult{Node: &backend.RemoteNode{ID: mp.key, Name: mp.name, Size: mp.total}}, nil
}

// CancelSession aborts the multipart upload behind uploadURL so S3 drops the
// parts already stored. Transient range failures keep the session for a
// resend, so this is how an exhausted retry releases it.
func (s *Store) CancelSession(ctx context.Context, uploadURL string) error {
	id := strings.TrimPrefix(uploadURL, sessionScheme)

	s.mu.Lock()
	mp, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := s.abort(ctx, mp); err != nil {
		return &backend.SessionError{Op: "cancel", Status: statusOf(err), Err: err}
	}
	return nil
}

func (s *Store) abort(ctx context.Context, mp *multipart) error {
	_, err := s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(mp.key),
		UploadId: aws.String(mp.uploadID),
	})
	if err != nil {
		internal.Warn("could not abort multipart upload", internal.WithError(internal.Fields{
			internal.FieldNodeID: mp.key,
			internal.FieldStatus: statusOf(err),
		}, err))
	}
	return err
}

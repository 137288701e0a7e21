package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"codearena/internal/common/storage"
	"codearena/internal/submit/repository"
	"codearena/pkg/utils/logger"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const defaultSourcePrefix = "submissions"

// sourceArchiver stores zstd-compressed sources in object storage.
type sourceArchiver struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// newSourceArchiver returns nil when storage is not configured.
func newSourceArchiver(obj storage.ObjectStorage, bucket, prefix string) (*sourceArchiver, error) {
	if obj == nil {
		return nil, nil
	}
	if bucket == "" {
		return nil, fmt.Errorf("source bucket is required when storage is configured")
	}
	if prefix == "" {
		prefix = defaultSourcePrefix
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &sourceArchiver{
		storage: obj,
		bucket:  bucket,
		prefix:  strings.TrimSuffix(prefix, "/"),
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (a *sourceArchiver) objectKey(submission *repository.Submission) string {
	return fmt.Sprintf("%s/%d/%s.%s.zst", a.prefix, submission.ProblemID, submission.SubmissionID, submission.Language)
}

func (a *sourceArchiver) put(ctx context.Context, submission *repository.Submission) (string, error) {
	compressed := a.encoder.EncodeAll([]byte(submission.SourceCode), nil)
	key := a.objectKey(submission)
	err := a.storage.PutObject(ctx, a.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), storage.PutOptions{
		ContentType:     "text/plain; charset=utf-8",
		ContentEncoding: "zstd",
		UserMetadata: map[string]string{
			"submission-id": submission.SubmissionID,
			"source-sha256": submission.SourceHash,
		},
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// archiveSource is best-effort. It returns the object key, or "" when nothing was archived.
func (s *SubmitService) archiveSource(ctx context.Context, submission *repository.Submission) string {
	if s.archiver == nil {
		return ""
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	key, err := s.archiver.put(ctxStorage.ctx, submission)
	if err != nil {
		s.metrics.SideEffectFailed("source_archive")
		logger.Warn(ctx, "archive source failed", zap.Error(err))
		return ""
	}
	return key
}

func (a *sourceArchiver) get(ctx context.Context, key string) (string, error) {
	reader, err := a.storage.GetObject(ctx, a.bucket, key)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	compressed, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	raw, err := a.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return "", fmt.Errorf("decode archived source: %w", err)
	}
	return string(raw), nil
}

// restoreSource fills in a missing source from the archive.
func (s *SubmitService) restoreSource(ctx context.Context, submission *repository.Submission) {
	if submission.SourceCode != "" || submission.SourceKey == "" || s.archiver == nil {
		return
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	source, err := s.archiver.get(ctxStorage.ctx, submission.SourceKey)
	if err != nil {
		logger.Warn(ctx, "restore archived source failed",
			zap.String("submission_id", submission.SubmissionID),
			zap.Error(err),
		)
		return
	}
	submission.SourceCode = source
}

func hashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

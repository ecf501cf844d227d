package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"autocmx/internal/ingest"
	"autocmx/internal/storage"
)

// TypeArchivePost copies one received post to object storage.
const TypeArchivePost = "archive:post"

const archiveRetries = 5

func NewArchiveTask(p ingest.Post) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeArchivePost, b), nil
}

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer hands posts to the worker. It is the api side of the archive.
type Enqueuer struct {
	client taskEnqueuer
}

var _ ingest.Archiver = (*Enqueuer)(nil)

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

func (e *Enqueuer) Archive(ctx context.Context, p ingest.Post) error {
	task, err := NewArchiveTask(p)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.MaxRetry(archiveRetries)); err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeArchivePost, err)
	}
	return nil
}

// Uploader stores a JSON document and returns its reference.
type Uploader interface {
	PutJSON(ctx context.Context, key string, v any) (string, error)
}

type Server struct {
	S3     Uploader
	Logger *slog.Logger
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeArchivePost, s.handleArchive)
	return mux
}

func (s *Server) handleArchive(ctx context.Context, t *asynq.Task) error {
	var p ingest.Post
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// a payload that does not decode now never will
		return fmt.Errorf("decode %s payload: %v: %w", TypeArchivePost, err, asynq.SkipRetry)
	}

	ref, err := s.S3.PutJSON(ctx, storage.ArchiveKey(p.TestID, p.ReceivedAt), p)
	if err != nil {
		s.Logger.Error("archive post", "test", p.TestID, "error", err)
		return err
	}
	s.Logger.Info("archived post", "test", p.TestID, "state", p.State, "ref", ref)
	return nil
}

func Run(addr string, s3c Uploader, logger *slog.Logger) error {
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: addr}, asynq.Config{Concurrency: 5})
	w := &Server{S3: s3c, Logger: logger}
	return srv.Run(w.mux())
}

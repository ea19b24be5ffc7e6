package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"intakeflow/auth"
	"intakeflow/form"
)

var (
	ErrNotFound        = errors.New("document: not found")
	ErrForbidden       = errors.New("document: forbidden")
	ErrUnsupportedType = errors.New("document: unsupported file type")
	ErrTooLarge        = errors.New("document: file too large")
)

const (
	// MaxFileSize bounds scanned documents and images.
	MaxFileSize int64 = 5 << 20
	// MaxAudioSize bounds consent call recordings.
	MaxAudioSize int64 = 15 << 20

	removeConcurrency = 4
)

// allowedTypes maps accepted extensions to the served mime type. Audio
// extensions route to the larger size limit.
var allowedTypes = map[string]struct {
	mime string
	kind Kind
}{
	"jpeg": {"image/jpeg", KindFile},
	"jpg":  {"image/jpeg", KindFile},
	"png":  {"image/png", KindFile},
	"pdf":  {"application/pdf", KindFile},
	"mp3":  {"audio/mpeg", KindAudio},
	"wma":  {"audio/x-ms-wma", KindAudio},
}

// FileStore persists document payloads. Paths are relative to the store
// root.
type FileStore interface {
	Save(ctx context.Context, storedPath string, content io.Reader) (int64, error)
	Remove(ctx context.Context, storedPath string) error
}

// FormReader resolves the form an upload is attached to, for authorization.
type FormReader interface {
	Get(ctx context.Context, id string) (form.Form, error)
}

// Repository is the document metadata store.
type Repository interface {
	Insert(ctx context.Context, doc Document) (Document, error)
	Get(ctx context.Context, id string) (Document, error)
	ListForForm(ctx context.Context, formID string) ([]Document, error)
	Delete(ctx context.Context, id string) error
	DeleteForForm(ctx context.Context, formID string) error
}

// Service manages uploads attached to application forms: type and size
// gating, storage, and cleanup when forms are deleted.
type Service struct {
	repo        Repository
	store       FileStore
	forms       FormReader
	logger      *zap.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(repo Repository, store FileStore, forms FormReader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		store:       store,
		forms:       forms,
		logger:      logger,
		idGenerator: uuid.NewString,
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// UploadParams carries one incoming file. Size is the declared length; the
// stored payload is additionally capped while copying, so a lying client
// cannot smuggle a larger body.
type UploadParams struct {
	FormID   string
	FileName string
	Size     int64
	Content  io.Reader
}

// Upload validates and stores a file against a form the actor may access.
func (s *Service) Upload(ctx context.Context, actor auth.Actor, params UploadParams) (Document, error) {
	f, err := s.forms.Get(ctx, params.FormID)
	if err != nil {
		return Document{}, err
	}
	if !f.CanView(actor) {
		return Document{}, fmt.Errorf("%w: no access to this form", ErrForbidden)
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(params.FileName), "."))
	rule, ok := allowedTypes[ext]
	if !ok {
		return Document{}, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	limit := MaxFileSize
	if rule.kind == KindAudio {
		limit = MaxAudioSize
	}
	if params.Size > limit {
		return Document{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, params.Size, limit)
	}

	id := s.idGenerator()
	storedPath := path.Join(params.FormID, id+"."+ext)

	// limit+1 so an oversized body is detected instead of silently truncated.
	written, err := s.store.Save(ctx, storedPath, io.LimitReader(params.Content, limit+1))
	if err != nil {
		return Document{}, fmt.Errorf("document: store payload: %w", err)
	}
	if written > limit {
		if err := s.store.Remove(ctx, storedPath); err != nil {
			s.logger.Warn("oversized upload not cleaned up",
				zap.String("path", storedPath),
				zap.Error(err))
		}
		return Document{}, fmt.Errorf("%w: payload exceeds %d bytes", ErrTooLarge, limit)
	}

	doc, err := s.repo.Insert(ctx, Document{
		ID:                id,
		ApplicationFormID: params.FormID,
		Kind:              rule.kind,
		FileName:          params.FileName,
		StoredPath:        storedPath,
		MimeType:          rule.mime,
		SizeBytes:         written,
		UploadedBy:        actor.ID,
		CreatedAt:         s.now().UTC(),
	})
	if err != nil {
		if rmErr := s.store.Remove(ctx, storedPath); rmErr != nil {
			s.logger.Warn("orphaned upload not cleaned up",
				zap.String("path", storedPath),
				zap.Error(rmErr))
		}
		return Document{}, err
	}
	return doc, nil
}

// List returns a form's documents for actors who may view the form.
func (s *Service) List(ctx context.Context, actor auth.Actor, formID string) ([]Document, error) {
	f, err := s.forms.Get(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !f.CanView(actor) {
		return nil, fmt.Errorf("%w: no access to this form", ErrForbidden)
	}
	return s.repo.ListForForm(ctx, formID)
}

// Delete removes one document. Admins and the original uploader only.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, documentID string) error {
	doc, err := s.repo.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && actor.ID != doc.UploadedBy {
		return fmt.Errorf("%w: not the uploader", ErrForbidden)
	}

	if err := s.repo.Delete(ctx, documentID); err != nil {
		return err
	}
	if err := s.store.Remove(ctx, doc.StoredPath); err != nil {
		s.logger.Warn("deleted document file not removed",
			zap.String("path", doc.StoredPath),
			zap.Error(err))
	}
	return nil
}

// RemoveAllForForm deletes every document attached to a form, files first.
// Used by form deletion; file removals run concurrently.
func (s *Service) RemoveAllForForm(ctx context.Context, formID string) error {
	docs, err := s.repo.ListForForm(ctx, formID)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(removeConcurrency)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			if err := s.store.Remove(ctx, doc.StoredPath); err != nil {
				return fmt.Errorf("document: remove %s: %w", doc.StoredPath, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return s.repo.DeleteForForm(ctx, formID)
}

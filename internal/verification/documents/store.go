// Package documents holds the applicant's uploaded documents, one slot per
// category, and produces their previews asynchronously.
package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"studentcheck/internal/verification/models"
	id "studentcheck/pkg/domain"
	dErrors "studentcheck/pkg/domain-errors"
	strutil "studentcheck/pkg/platform/strings"
)

const previewTimeout = 10 * time.Second

// Previewer renders a data URL preview of an accepted file.
type Previewer interface {
	Preview(ctx context.Context, mimeType string, content []byte) (string, error)
}

// Upload is a file offered for a category slot.
type Upload struct {
	Category models.DocumentCategory
	Name     string
	MIMEType string
	Content  []byte
}

// PreviewResult is the outcome of the async preview for one accepted slot.
// Exactly one of Preview and Err is set.
type PreviewResult struct {
	SlotID   id.SlotID
	Category models.DocumentCategory
	Preview  string
	Err      error
}

// Store keeps at most one slot per category.
type Store struct {
	mu        sync.RWMutex
	slots     map[models.DocumentCategory]*models.DocumentSlot
	previewer Previewer
	maxBytes  int64
	allowed   []string
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithLimits overrides the size limit and accepted MIME types.
func WithLimits(maxBytes int64, allowed []string) Option {
	return func(s *Store) {
		if maxBytes > 0 {
			s.maxBytes = maxBytes
		}
		if normalized := strutil.Normalize(allowed, normalizeMIME); len(normalized) > 0 {
			s.allowed = normalized
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(previewer Previewer, opts ...Option) *Store {
	s := &Store{
		slots:     make(map[models.DocumentCategory]*models.DocumentSlot),
		previewer: previewer,
		maxBytes:  models.MaxDocumentBytes,
		allowed:   models.AllowedMIMETypes(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Accept validates the upload and, on success, replaces any existing slot for
// the category. The returned channel delivers the preview result once; apply
// it with ApplyPreview. On validation failure the existing slot is untouched.
func (s *Store) Accept(ctx context.Context, up Upload) (models.DocumentSlot, <-chan PreviewResult, error) {
	mimeType, err := s.validate(up)
	if err != nil {
		return models.DocumentSlot{}, nil, err
	}

	slot := &models.DocumentSlot{
		ID:       id.NewSlotID(),
		Category: up.Category,
		File: models.FileMeta{
			Name:     strings.TrimSpace(up.Name),
			Size:     int64(len(up.Content)),
			MIMEType: mimeType,
		},
		Status:     models.SlotUploaded,
		UploadedAt: s.now(),
		Content:    slices.Clone(up.Content),
	}

	s.mu.Lock()
	replaced, hadPrevious := s.slots[up.Category]
	s.slots[up.Category] = slot
	s.mu.Unlock()

	if hadPrevious {
		s.logger.DebugContext(ctx, "document slot replaced",
			"category", up.Category,
			"previous_slot_id", replaced.ID.String(),
			"slot_id", slot.ID.String(),
		)
	}

	out := make(chan PreviewResult, 1)
	go s.renderPreview(context.WithoutCancel(ctx), *slot, out)

	return snapshotSlot(slot), out, nil
}

func (s *Store) renderPreview(ctx context.Context, slot models.DocumentSlot, out chan<- PreviewResult) {
	defer close(out)
	ctx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()

	result := PreviewResult{SlotID: slot.ID, Category: slot.Category}
	if s.previewer == nil {
		result.Err = fmt.Errorf("no previewer configured")
		out <- result
		return
	}
	preview, err := s.previewer.Preview(ctx, slot.File.MIMEType, slot.Content)
	if err != nil {
		result.Err = err
	} else {
		result.Preview = preview
	}
	out <- result
}

// ApplyPreview records a preview result on its slot. Results for a slot that
// has since been replaced or removed are ignored; the return value reports
// whether the result was applied. A failed preview marks the slot as error.
func (s *Store) ApplyPreview(result PreviewResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[result.Category]
	if !ok || slot.ID != result.SlotID {
		return false
	}
	if result.Err != nil {
		slot.Status = models.SlotError
		slot.Error = "We could not read this file. Please upload it again."
		if errors.Is(result.Err, ErrImageTooLarge) {
			slot.Error = "This image is too large to process. Please upload a smaller scan or photo."
		}
		slot.Preview = ""
		return true
	}
	slot.Preview = result.Preview
	return true
}

// Remove clears the slot for the category and reports whether one existed.
func (s *Store) Remove(category models.DocumentCategory) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[category]; !ok {
		return false
	}
	delete(s.slots, category)
	return true
}

// Get returns a copy of the slot for the category.
func (s *Store) Get(category models.DocumentCategory) (models.DocumentSlot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[category]
	if !ok {
		return models.DocumentSlot{}, false
	}
	return snapshotSlot(slot), true
}

// List returns copies of every present slot in category display order.
func (s *Store) List() []models.DocumentSlot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DocumentSlot, 0, len(s.slots))
	for _, category := range models.DocumentCategories() {
		if slot, ok := s.slots[category]; ok {
			out = append(out, snapshotSlot(slot))
		}
	}
	return out
}

// Ready reports whether the documents are fit to submit: at least one
// requirement-satisfying slot is uploaded and no present slot is in error.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	satisfied := false
	for _, slot := range s.slots {
		if !slot.IsUploaded() {
			return false
		}
		if slot.Category.SatisfiesRequirement() {
			satisfied = true
		}
	}
	return satisfied
}

func (s *Store) validate(up Upload) (string, error) {
	if !up.Category.IsValid() {
		return "", fileError("category", "Unknown document category. Choose student ID, enrollment proof or transcript.")
	}
	size := int64(len(up.Content))
	if size == 0 {
		return "", fileError("file", "The selected file is empty. Please choose another file.")
	}
	if size > s.maxBytes {
		return "", fileError("file", fmt.Sprintf("File is too large. Maximum size is %d MB.", s.maxBytes>>20))
	}

	declared := normalizeMIME(up.MIMEType)
	if !slices.Contains(s.allowed, declared) {
		return "", fileError("file", "Unsupported file type. Please upload a JPEG, PNG or PDF file.")
	}
	if detected := mimetype.Detect(up.Content); !detected.Is(declared) {
		return "", fileError("file", "The file content does not match its type. Please upload a valid "+displayType(declared)+" file.")
	}
	return declared, nil
}

// fileError carries the same sentence as the message and the field error so
// clients reading either show the applicant what to do.
func fileError(field, text string) error {
	return dErrors.NewValidation(text, map[string]string{field: text})
}

func normalizeMIME(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	if v == "image/jpg" || v == "image/pjpeg" {
		return models.MIMEJPEG
	}
	return v
}

func displayType(mimeType string) string {
	switch mimeType {
	case models.MIMEJPEG:
		return "JPEG"
	case models.MIMEPNG:
		return "PNG"
	case models.MIMEPDF:
		return "PDF"
	}
	return mimeType
}

func snapshotSlot(slot *models.DocumentSlot) models.DocumentSlot {
	out := *slot
	out.Content = slices.Clone(slot.Content)
	return out
}

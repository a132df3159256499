// Package submit turns an edited candidate into a registered or updated definition.
package submit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

// Registry is the part of the registry the submitter writes to.
type Registry interface {
	CreateFunction(ctx context.Context, def function.Definition, artifact *function.Artifact) (function.Definition, error)
	UpdateFunction(ctx context.Context, id string, patch function.MetadataPatch) (function.Definition, error)
}

type Uploader interface {
	UploadArtifact(ctx context.Context, artifact function.Artifact) (string, error)
}

// ImageChecker returns function.ErrImageNotFound for references that do not resolve.
type ImageChecker interface {
	CheckImage(ctx context.Context, ref string) error
}

type Option func(*Submitter)

// WithUploader makes STORAGE artifacts go to a dedicated store before the
// definition is created. Without it they are sent inline with the create call.
func WithUploader(u Uploader) Option {
	return func(s *Submitter) {
		s.uploader = u
	}
}

// WithImageChecker verifies IMAGE references before they are registered.
func WithImageChecker(c ImageChecker) Option {
	return func(s *Submitter) {
		s.images = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Submitter) {
		s.logger = logger
	}
}

// Submitter validates a candidate and writes it to the registry. Writes are
// never retried.
type Submitter struct {
	registry Registry
	uploader Uploader
	images   ImageChecker
	logger   *slog.Logger
}

func New(registry Registry, opts ...Option) *Submitter {
	s := &Submitter{
		registry: registry,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit creates the candidate when it has no id and updates it otherwise.
// Failures are *function.ValidationError, *function.UploadError or
// *function.RegistryError. A validation failure never reaches the network.
func (s *Submitter) Submit(ctx context.Context, c function.Candidate) (function.Definition, error) {
	creating := c.ID == ""

	res := function.Validate(c)
	if !res.Valid {
		return function.Definition{}, &function.ValidationError{Fields: res.FieldErrors}
	}
	if errs := function.CheckDeferred(c, creating); len(errs) > 0 {
		return function.Definition{}, &function.ValidationError{Fields: errs}
	}

	def := function.Normalize(c.Definition)

	if !creating {
		return s.update(ctx, def)
	}

	if err := s.checkImage(ctx, def); err != nil {
		return function.Definition{}, err
	}

	var inline *function.Artifact
	if def.Source == function.SourceStorage && def.LocationURL == "" {
		if s.uploader == nil {
			inline = c.Artifact
		} else {
			loc, err := s.uploader.UploadArtifact(ctx, *c.Artifact)
			if err != nil {
				s.logger.Error("artifact upload failed", "file", c.Artifact.Filename, "error", err)
				return function.Definition{}, &function.UploadError{Filename: c.Artifact.Filename, Err: err}
			}
			s.logger.Debug("artifact uploaded", "file", c.Artifact.Filename, "location", loc)
			def.LocationURL = loc
		}
	}

	created, err := s.registry.CreateFunction(ctx, def, inline)
	if err != nil {
		s.logger.Error("failed to create function", "name", def.Name, "error", err)
		return function.Definition{}, &function.RegistryError{Op: "create", Err: err}
	}
	s.logger.Info("function created", "id", created.ID, "name", created.Name)
	return created, nil
}

func (s *Submitter) update(ctx context.Context, def function.Definition) (function.Definition, error) {
	updated, err := s.registry.UpdateFunction(ctx, def.ID, def.Patch())
	if err != nil {
		s.logger.Error("failed to update function", "id", def.ID, "error", err)
		return function.Definition{}, &function.RegistryError{Op: "update", ID: def.ID, Err: err}
	}
	s.logger.Info("function updated", "id", def.ID)
	return updated, nil
}

// checkImage turns unknown image references into a field error. Other lookup
// failures are logged and do not block the submission.
func (s *Submitter) checkImage(ctx context.Context, def function.Definition) error {
	if s.images == nil || def.Type != function.TypeImage {
		return nil
	}
	err := s.images.CheckImage(ctx, def.LocationURL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, function.ErrImageNotFound):
		return &function.ValidationError{Fields: map[function.Field]string{
			function.FieldLocationURL: "Docker image not found",
		}}
	default:
		s.logger.Warn("image check failed, continuing", "image", def.LocationURL, "error", err)
		return nil
	}
}

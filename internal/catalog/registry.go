package catalog

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pitabwire/sarvekshan/internal/observability"
	"github.com/pitabwire/sarvekshan/model"
)

// snapshot is an immutable view of the loaded surveys.
type snapshot struct {
	byID     map[string]model.SurveyDefinition
	ordered  []model.SurveyDefinition
	checksum string
}

// Registry is a read-optimized, thread-safe store of survey definitions. Reads
// are lock-free; Replace swaps the whole snapshot at once.
type Registry struct {
	snap      atomic.Pointer[snapshot]
	loader    *Loader
	validator *Validator
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry. It serves no surveys until Replace
// or Reload succeeds.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		loader:    NewLoader(),
		validator: NewValidator(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load builds a registry from the catalog files under directories.
func Load(directories []string, opts ...Option) (*Registry, error) {
	r := NewRegistry(opts...)
	if err := r.Reload(directories); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads, validates and installs the catalog files under directories.
// The current snapshot is kept when anything fails.
func (r *Registry) Reload(directories []string) error {
	docs, err := r.loader.LoadAll(directories)
	if err != nil {
		r.metrics.RecordCatalogReload("error")
		return fmt.Errorf("loading catalog: %w", err)
	}

	if verrs := r.validator.Validate(docs); len(verrs) > 0 {
		r.metrics.RecordCatalogReload("invalid")
		joined := make([]error, len(verrs))
		for i, ve := range verrs {
			joined[i] = ve
		}
		return fmt.Errorf("validating catalog: %w", errors.Join(joined...))
	}

	r.Replace(docs)
	r.metrics.RecordCatalogReload("success")
	r.logger.Info("survey catalog loaded",
		zap.Int("files", len(docs)),
		zap.Int("surveys", r.Len()),
		zap.String("checksum", r.Checksum()),
	)
	return nil
}

// Replace atomically swaps the registry contents for the surveys in docs.
// Surveys keep the order in which they were declared.
func (r *Registry) Replace(docs []Document) {
	s := &snapshot{byID: make(map[string]model.SurveyDefinition)}

	var checksumParts []string
	for _, doc := range docs {
		checksumParts = append(checksumParts, doc.Checksum)
		for _, def := range doc.Surveys {
			if _, dup := s.byID[def.ID]; dup {
				continue
			}
			s.byID[def.ID] = def
			s.ordered = append(s.ordered, def)
		}
	}

	sort.Strings(checksumParts)
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(checksumParts, ":"))))

	r.snap.Store(s)
	r.metrics.SetSurveysLoaded(float64(len(s.ordered)))
}

func (r *Registry) current() *snapshot {
	if s := r.snap.Load(); s != nil {
		return s
	}
	return &snapshot{}
}

// Loaded reports whether a catalog has been installed.
func (r *Registry) Loaded() bool {
	return r.snap.Load() != nil
}

// Len returns the number of surveys served.
func (r *Registry) Len() int {
	return len(r.current().ordered)
}

// Checksum returns the combined checksum of the loaded catalog files.
func (r *Registry) Checksum() string {
	return r.current().checksum
}

// ListSurveys returns every survey in declaration order.
func (r *Registry) ListSurveys(_ context.Context) ([]model.SurveyDefinition, error) {
	s := r.current()
	out := make([]model.SurveyDefinition, len(s.ordered))
	copy(out, s.ordered)
	return out, nil
}

// GetSurvey returns the survey with the given id, or NOT_FOUND.
func (r *Registry) GetSurvey(_ context.Context, id string) (model.SurveyDefinition, error) {
	def, ok := r.current().byID[id]
	if !ok {
		return model.SurveyDefinition{}, model.NewNotFoundError("survey " + id + " does not exist")
	}
	return def, nil
}

// Search returns the surveys whose id, name or description contains query,
// ignoring case. A blank query matches every survey.
func (r *Registry) Search(ctx context.Context, query string) ([]model.SurveyDefinition, error) {
	all, err := r.ListSurveys(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(all, query), nil
}

// Filter returns the surveys in defs matching query the way Search does.
func Filter(defs []model.SurveyDefinition, query string) []model.SurveyDefinition {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return defs
	}
	var out []model.SurveyDefinition
	for _, d := range defs {
		if strings.Contains(strings.ToLower(d.ID), q) ||
			strings.Contains(strings.ToLower(d.Name), q) ||
			strings.Contains(strings.ToLower(d.Description), q) {
			out = append(out, d)
		}
	}
	return out
}

package editor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/ehr/qeditor/internal/domain/generator"
	"github.com/ehr/qeditor/internal/domain/mapper"
	"github.com/ehr/qeditor/internal/domain/questionnaire"
	"github.com/ehr/qeditor/internal/domain/translation"
	"github.com/ehr/qeditor/internal/domain/validation"
	"github.com/ehr/qeditor/internal/platform/blobstore"
	"github.com/ehr/qeditor/pkg/fhirmodels"
)

var (
	ErrTerminologyDisabled = errors.New("terminology client is not configured")
	ErrExportsDisabled     = errors.New("export store is not configured")
	ErrInvalidDocument     = errors.New("invalid questionnaire document")
)

// ValueSetFetcher downloads ValueSet resources from a terminology server.
type ValueSetFetcher interface {
	FetchValueSets(ctx context.Context, url string) ([]json.RawMessage, error)
}

// Service runs editor operations against stored snapshots. Writes to one
// questionnaire are serialised; different questionnaires proceed in parallel.
type Service struct {
	repo        SnapshotRepository
	mapper      *mapper.Mapper
	terminology ValueSetFetcher
	exports     blobstore.Store
	locks       *keyedMutex
	log         zerolog.Logger
	defaultLang string
}

type Option func(*Service)

func WithTerminology(f ValueSetFetcher) Option {
	return func(s *Service) { s.terminology = f }
}

func WithExportStore(store blobstore.Store) Option {
	return func(s *Service) { s.exports = store }
}

// WithDefaultLanguage sets the main language of questionnaires created
// without one.
func WithDefaultLanguage(lang string) Option {
	return func(s *Service) { s.defaultLang = lang }
}

func NewService(repo SnapshotRepository, m *mapper.Mapper, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		mapper:      m,
		locks:       newKeyedMutex(),
		log:         log.With().Str("component", "editor").Logger(),
		defaultLang: fhirmodels.LanguageBokmal,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts an empty questionnaire. An empty id gets a generated one.
func (s *Service) Create(ctx context.Context, id, lang string) (*Snapshot, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if lang == "" {
		lang = s.defaultLang
	}
	state := &questionnaire.State{}
	if err := (&questionnaire.NewQuestionnaire{ID: id, Language: lang}).Apply(state); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()
	if _, err := s.repo.Get(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotExists, id)
	} else if !errors.Is(err, ErrSnapshotNotFound) {
		return nil, err
	}
	return s.save(ctx, id, state)
}

// Import maps a wire Questionnaire or Bundle and stores it under the
// document id, replacing any snapshot with that id.
func (s *Service) Import(ctx context.Context, data []byte) (*Snapshot, error) {
	state, err := s.mapper.Map(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if state.Metadata.ID == "" {
		state.Metadata.ID = uuid.NewString()
	}
	id := state.Metadata.ID

	unlock := s.locks.Lock(id)
	defer unlock()
	return s.save(ctx, id, state)
}

func (s *Service) Get(ctx context.Context, id string) (*Snapshot, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]Summary, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("questionnaire", id).Msg("questionnaire deleted")
	return nil
}

// Dispatch applies the actions to the stored state. Nothing is saved when
// one of them fails.
func (s *Service) Dispatch(ctx context.Context, id string, actions ...questionnaire.Action) (*Snapshot, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.dispatch(ctx, id, actions...)
}

func (s *Service) dispatch(ctx context.Context, id string, actions ...questionnaire.Action) (*Snapshot, error) {
	snap, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ed := questionnaire.NewEditor(snap.State)
	if err := ed.Dispatch(actions...); err != nil {
		return nil, err
	}
	return s.save(ctx, id, ed.State())
}

func (s *Service) save(ctx context.Context, id string, state *questionnaire.State) (*Snapshot, error) {
	snap := snapshotOf(state)
	snap.ID = id
	if err := s.repo.Save(ctx, snap); err != nil {
		return nil, err
	}
	s.log.Debug().Str("questionnaire", id).Int("version", snap.Version).Msg("snapshot saved")
	return snap, nil
}

// Generate returns the wire document of the questionnaire.
func (s *Service) Generate(ctx context.Context, id string) ([]byte, error) {
	snap, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return generator.Generate(snap.State)
}

// Validate runs the document rules with messages in lang.
func (s *Service) Validate(ctx context.Context, id, lang string) ([]validation.Error, error) {
	snap, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return validation.ValidateDocument(snap.State, lang), nil
}

// ExportTranslations flattens the translatable values. A nil languages
// exports every overlay.
func (s *Service) ExportTranslations(ctx context.Context, id string, languages []string) (*translation.Table, error) {
	snap, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return translation.Export(snap.State, languages), nil
}

// ImportTranslations reads a translation sheet and replaces the overlays of
// the languages it names.
func (s *Service) ImportTranslations(ctx context.Context, id string, r io.Reader) (*Snapshot, *translation.ImportResult, error) {
	table, err := translation.ReadCSV(r)
	if err != nil {
		return nil, nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()
	snap, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	res, err := translation.Import(snap.State, table)
	if err != nil {
		return nil, nil, err
	}

	langs := make([]string, 0, len(res.Translations))
	for lang := range res.Translations {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	actions := make([]questionnaire.Action, 0, len(langs))
	for _, lang := range langs {
		actions = append(actions, &questionnaire.ImportTranslation{Language: lang, Translation: res.Translations[lang]})
	}
	if len(res.Skipped) > 0 {
		s.log.Warn().Str("questionnaire", id).Strs("keys", res.Skipped).Msg("translation rows skipped")
	}
	next, err := s.dispatch(ctx, id, actions...)
	if err != nil {
		return nil, nil, err
	}
	return next, res, nil
}

// UploadTranslation reads a translated copy of the questionnaire and stores
// it as the overlay of lang, replacing an existing one.
func (s *Service) UploadTranslation(ctx context.Context, id, lang string, data []byte) (*Snapshot, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	snap, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	base := snap.State.Clone()
	delete(base.Translations, lang)
	t, err := s.mapper.MapTranslation(base, lang, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return s.dispatch(ctx, id, &questionnaire.ImportTranslation{Language: lang, Translation: t})
}

// FetchValueSets downloads the ValueSets at url into the contained value
// sets of the questionnaire.
func (s *Service) FetchValueSets(ctx context.Context, id, url string) (*Snapshot, int, error) {
	if s.terminology == nil {
		return nil, 0, ErrTerminologyDisabled
	}
	raw, err := s.terminology.FetchValueSets(ctx, url)
	if err != nil {
		return nil, 0, err
	}
	valueSets := make([]questionnaire.ValueSet, 0, len(raw))
	for i, r := range raw {
		var vs questionnaire.ValueSet
		if err := json.Unmarshal(r, &vs); err != nil {
			return nil, 0, fmt.Errorf("decode value set %d: %w", i, err)
		}
		valueSets = append(valueSets, vs)
	}

	snap, err := s.Dispatch(ctx, id, &questionnaire.ImportValueSets{ValueSets: valueSets})
	if err != nil {
		return nil, 0, err
	}
	s.log.Info().Str("questionnaire", id).Str("url", url).Int("count", len(valueSets)).Msg("value sets imported")
	return snap, len(valueSets), nil
}

// Publish writes the generated document and the translation sheet of the
// current version to the export store.
func (s *Service) Publish(ctx context.Context, id string) ([]*blobstore.BlobMetadata, error) {
	if s.exports == nil {
		return nil, ErrExportsDisabled
	}
	snap, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := generator.Generate(snap.State)
	if err != nil {
		return nil, err
	}
	var sheet bytes.Buffer
	if err := translation.WriteCSV(&sheet, translation.Export(snap.State, nil)); err != nil {
		return nil, err
	}

	prefix := PublishPrefix(id, snap.Version)
	tags := map[string]string{
		"questionnaire": id,
		"version":       strconv.Itoa(snap.Version),
		"language":      snap.Language,
	}
	if len(snap.State.Translations) > 0 {
		tags["resource"] = "Bundle"
	} else {
		tags["resource"] = "Questionnaire"
	}

	var out []*blobstore.BlobMetadata
	for _, blob := range []struct {
		name        string
		contentType string
		data        []byte
	}{
		{"questionnaire.json", blobstore.ContentTypeFHIRJSON, doc},
		{"translations.csv", blobstore.ContentTypeCSV, sheet.Bytes()},
	} {
		meta, err := s.exports.Put(ctx, blobstore.BlobMetadata{
			Key:         prefix + blob.name,
			ContentType: blob.contentType,
			Tags:        tags,
		}, bytes.NewReader(blob.data))
		if err != nil {
			return nil, fmt.Errorf("publish %s: %w", blob.name, err)
		}
		out = append(out, meta)
	}
	s.log.Info().Str("questionnaire", id).Int("version", snap.Version).Msg("questionnaire published")
	return out, nil
}

// PublishPrefix is the export store folder of one questionnaire version.
func PublishPrefix(id string, version int) string {
	return fmt.Sprintf("%s/v%d/", id, version)
}

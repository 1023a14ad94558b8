package editor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/ehr/qeditor/internal/domain/mapper"
	"github.com/ehr/qeditor/internal/domain/questionnaire"
	"github.com/ehr/qeditor/internal/domain/translation"
	"github.com/ehr/qeditor/internal/domain/validation"
	"github.com/ehr/qeditor/internal/platform/blobstore"
	"github.com/ehr/qeditor/internal/platform/fhir"
)

const mainDoc = `{
	"resourceType": "Questionnaire",
	"id": "q-1",
	"language": "nb-NO",
	"name": "Skjema",
	"title": "Skjema",
	"item": [
		{"linkId": "1", "type": "group", "text": "Gruppe", "item": [
			{"linkId": "1.1", "type": "string", "text": "Navn"},
			{"linkId": "1.3", "type": "choice", "text": "Røyker",
			 "answerOption": [{"valueCoding": {"system": "urn:yn", "code": "y", "display": "Ja"}}]}
		]}
	]
}`

const englishDoc = `{
	"resourceType": "Questionnaire",
	"id": "q-1",
	"language": "en-GB",
	"title": "Form",
	"item": [
		{"linkId": "1", "type": "group", "text": "Group", "item": [
			{"linkId": "1.1", "type": "string", "text": "Name"},
			{"linkId": "1.3", "type": "choice", "text": "Smoker",
			 "answerOption": [{"valueCoding": {"system": "urn:yn", "code": "y", "display": "Yes"}}]}
		]}
	]
}`

const sizesValueSet = `{"resourceType":"ValueSet","id":"sizes","compose":{"include":[
	{"system":"urn:sizes","concept":[{"code":"s","display":"Liten"},{"code":"l","display":"Stor"}]}]}}`

type stubFetcher struct {
	docs []string
	err  error
	urls []string
}

func (f *stubFetcher) FetchValueSets(_ context.Context, url string) ([]json.RawMessage, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]json.RawMessage, len(f.docs))
	for i, d := range f.docs {
		out[i] = json.RawMessage(d)
	}
	return out, nil
}

func newTestService(opts ...Option) *Service {
	return NewService(NewSnapshotRepoMemory(), mapper.New(zerolog.Nop()), zerolog.Nop(), opts...)
}

func importMain(t *testing.T, svc *Service) *Snapshot {
	t.Helper()
	snap, err := svc.Import(context.Background(), []byte(mainDoc))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	return snap
}

func TestServiceCreate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	snap, err := svc.Create(ctx, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.ID == "" || snap.State.Metadata.ID != snap.ID {
		t.Errorf("expected generated id, got %q / %q", snap.ID, snap.State.Metadata.ID)
	}
	if snap.Language != "nb-NO" || snap.Version != 1 {
		t.Errorf("unexpected snapshot %s v%d", snap.Language, snap.Version)
	}

	if _, err := svc.Create(ctx, "fixed", "en-GB"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Create(ctx, "fixed", "en-GB"); !errors.Is(err, ErrSnapshotExists) {
		t.Errorf("expected ErrSnapshotExists, got %v", err)
	}
	if _, err := svc.Create(ctx, "other", "de-DE"); !errors.Is(err, questionnaire.ErrUnsupportedLanguage) {
		t.Errorf("expected ErrUnsupportedLanguage, got %v", err)
	}
}

func TestServiceCreateDefaultLanguage(t *testing.T) {
	svc := newTestService(WithDefaultLanguage("en-GB"))
	snap, err := svc.Create(context.Background(), "q", "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Language != "en-GB" {
		t.Errorf("expected en-GB, got %s", snap.Language)
	}
}

func TestServiceImportAndGenerate(t *testing.T) {
	svc := newTestService()
	snap := importMain(t, svc)
	if snap.ID != "q-1" || snap.Title != "Skjema" || snap.Language != "nb-NO" {
		t.Errorf("unexpected snapshot %+v", snap.Summary())
	}

	doc, err := svc.Generate(context.Background(), "q-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt, _ := fhir.ResourceTypeOf(doc); rt != fhir.ResourceQuestionnaire {
		t.Errorf("expected a Questionnaire, got %s", rt)
	}

	again := importMain(t, svc)
	if again.Version != 2 {
		t.Errorf("re-import should bump the version, got %d", again.Version)
	}

	if _, err := svc.Import(context.Background(), []byte(`{"resourceType":"Patient"}`)); !errors.Is(err, ErrInvalidDocument) || !errors.Is(err, mapper.ErrUnsupportedResource) {
		t.Errorf("expected ErrInvalidDocument wrapping ErrUnsupportedResource, got %v", err)
	}
	if _, err := svc.Generate(context.Background(), "missing"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestServiceDispatchIsAtomic(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	importMain(t, svc)

	snap, err := svc.Dispatch(ctx, "q-1", &questionnaire.AddItem{
		Path: []string{"1"},
		Item: questionnaire.Item{LinkID: "1.4", Type: "string", Text: "Alder"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Version != 2 {
		t.Errorf("expected version 2, got %d", snap.Version)
	}

	_, err = svc.Dispatch(ctx, "q-1",
		&questionnaire.AddItem{Item: questionnaire.Item{LinkID: "extra", Type: "string"}},
		&questionnaire.RemoveItem{LinkID: "nope"},
	)
	if !errors.Is(err, questionnaire.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}

	stored, _ := svc.Get(ctx, "q-1")
	if stored.Version != 2 {
		t.Errorf("failed dispatch must not save, version %d", stored.Version)
	}
	if _, ok := stored.State.Items["extra"]; ok {
		t.Error("failed dispatch leaked a partial change")
	}
	if _, ok := stored.State.Items["1.4"]; !ok {
		t.Error("expected item 1.4 to be stored")
	}
}

func TestServiceDispatchKeepsSnapshotKey(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	importMain(t, svc)

	snap, err := svc.Dispatch(ctx, "q-1", &questionnaire.NewQuestionnaire{ID: "other", Language: "en-GB"})
	if err != nil {
		t.Fatal(err)
	}
	if snap.ID != "q-1" || snap.Language != "en-GB" {
		t.Errorf("unexpected snapshot %+v", snap.Summary())
	}
	if _, err := svc.Get(ctx, "other"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected no snapshot under the document id, got %v", err)
	}
}

func TestServiceConcurrentDispatch(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.Create(ctx, "q", "nb-NO"); err != nil {
		t.Fatal(err)
	}

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := questionnaire.Item{LinkID: fmt.Sprintf("item-%d", i), Type: "string"}
			if _, err := svc.Dispatch(ctx, "q", &questionnaire.AddItem{Item: item}); err != nil {
				t.Errorf("dispatch %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	snap, _ := svc.Get(ctx, "q")
	if len(snap.State.Items) != n || snap.Version != n+1 {
		t.Errorf("expected %d items at version %d, got %d at %d", n, n+1, len(snap.State.Items), snap.Version)
	}
	if svc.locks.size() != 0 {
		t.Errorf("expected no lingering locks, got %d", svc.locks.size())
	}
}

func TestServiceUploadTranslation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	importMain(t, svc)

	snap, err := svc.UploadTranslation(ctx, "q-1", "en-GB", []byte(englishDoc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	en := snap.State.Translations["en-GB"]
	if en.Items["1.1"].Text != "Name" || en.Items["1.3"].AnswerOptions["y"] != "Yes" {
		t.Errorf("unexpected overlay %+v", en.Items)
	}

	if _, err := svc.UploadTranslation(ctx, "q-1", "en-GB", []byte(englishDoc)); err != nil {
		t.Errorf("replacing an overlay should succeed, got %v", err)
	}
	if _, err := svc.UploadTranslation(ctx, "q-1", "nb-NO", []byte(mainDoc)); !errors.Is(err, questionnaire.ErrMainLanguage) {
		t.Errorf("expected ErrMainLanguage, got %v", err)
	}

	doc, err := svc.Generate(ctx, "q-1")
	if err != nil {
		t.Fatal(err)
	}
	if rt, _ := fhir.ResourceTypeOf(doc); rt != fhir.ResourceBundle {
		t.Errorf("expected a Bundle once translated, got %s", rt)
	}
}

func TestServiceTranslationSheet(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	importMain(t, svc)
	if _, err := svc.UploadTranslation(ctx, "q-1", "en-GB", []byte(englishDoc)); err != nil {
		t.Fatal(err)
	}

	table, err := svc.ExportTranslations(ctx, "q-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.MainLanguage != "nb-NO" || len(table.Languages) != 1 || table.Languages[0] != "en-GB" {
		t.Fatalf("unexpected header %v", table.Header())
	}

	edited := &translation.Table{
		MainLanguage: "nb-NO",
		Languages:    []string{"en-GB"},
		Rows: []translation.Row{
			{Key: "item[1.1].text", Values: []string{"Navn", "Full name"}},
			{Key: "item[gone].text", Values: []string{"x", "y"}},
		},
	}
	var buf bytes.Buffer
	if err := translation.WriteCSV(&buf, edited); err != nil {
		t.Fatal(err)
	}

	snap, res, err := svc.ImportTranslations(ctx, "q-1", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "item[gone].text" {
		t.Errorf("unexpected skipped rows %v", res.Skipped)
	}
	en := snap.State.Translations["en-GB"]
	if en.Items["1.1"].Text != "Full name" {
		t.Errorf("expected imported text, got %q", en.Items["1.1"].Text)
	}
	if en.Items["1.3"].AnswerOptions["y"] != "Yes" {
		t.Errorf("rows absent from the sheet must keep their value, got %+v", en.Items["1.3"])
	}
}

func TestServiceFetchValueSets(t *testing.T) {
	fetcher := &stubFetcher{docs: []string{sizesValueSet}}
	svc := newTestService(WithTerminology(fetcher))
	ctx := context.Background()
	importMain(t, svc)

	snap, n, err := svc.FetchValueSets(ctx, "q-1", "http://terminology.example/ValueSet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 || len(fetcher.urls) != 1 {
		t.Errorf("expected one value set from one call, got %d from %d", n, len(fetcher.urls))
	}
	if _, ok := snap.State.ValueSet("sizes"); !ok {
		t.Error("expected contained value set sizes")
	}

	fetcher.err = errors.New("boom")
	if _, _, err := svc.FetchValueSets(ctx, "q-1", "http://x"); err == nil {
		t.Error("expected fetch error")
	}
	if _, _, err := newTestService().FetchValueSets(ctx, "q-1", "http://x"); !errors.Is(err, ErrTerminologyDisabled) {
		t.Errorf("expected ErrTerminologyDisabled, got %v", err)
	}
}

func TestServiceValidate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.Create(ctx, "q", "nb-NO"); err != nil {
		t.Fatal(err)
	}
	errs, err := svc.Validate(ctx, "q", "en-GB")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, e := range errs {
		if e.ErrorProperty == validation.PropertyTitle {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a missing title error, got %+v", errs)
	}
}

func TestServicePublish(t *testing.T) {
	store := blobstore.NewMemoryStore()
	svc := newTestService(WithExportStore(store))
	ctx := context.Background()
	importMain(t, svc)

	blobs, err := svc.Publish(ctx, "q-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blobs) != 2 || blobs[0].Key != "q-1/v1/questionnaire.json" || blobs[1].Key != "q-1/v1/translations.csv" {
		t.Fatalf("unexpected blobs %+v", blobs)
	}
	if blobs[0].Tags["resource"] != "Questionnaire" || blobs[0].Tags["version"] != "1" {
		t.Errorf("unexpected tags %v", blobs[0].Tags)
	}
	listed, _ := store.List(ctx, PublishPrefix("q-1", 1))
	if len(listed) != 2 {
		t.Errorf("expected 2 stored blobs, got %d", len(listed))
	}

	if _, err := newTestService().Publish(ctx, "q-1"); !errors.Is(err, ErrExportsDisabled) {
		t.Errorf("expected ErrExportsDisabled, got %v", err)
	}
}

func TestServiceListAndDelete(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := svc.Create(ctx, id, "nb-NO"); err != nil {
			t.Fatal(err)
		}
	}
	items, total, err := svc.List(ctx, 2, 0)
	if err != nil || total != 3 || len(items) != 2 {
		t.Fatalf("List = %d items of %d, %v", len(items), total, err)
	}
	if err := svc.Delete(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, "b"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
	_, total, _ = svc.List(ctx, 10, 0)
	if total != 2 {
		t.Errorf("expected 2 after delete, got %d", total)
	}
}

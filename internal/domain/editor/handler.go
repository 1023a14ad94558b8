package editor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"

	"github.com/ehr/qeditor/internal/domain/mapper"
	"github.com/ehr/qeditor/internal/domain/questionnaire"
	"github.com/ehr/qeditor/internal/domain/translation"
	"github.com/ehr/qeditor/internal/domain/validation"
	"github.com/ehr/qeditor/internal/platform/blobstore"
	"github.com/ehr/qeditor/internal/platform/fhir"
	"github.com/ehr/qeditor/internal/platform/terminology"
	"github.com/ehr/qeditor/pkg/pagination"
)

// MaxUploadSize bounds documents and sheets posted to the API.
const MaxUploadSize = 10 * 1024 * 1024

type Handler struct {
	svc      *Service
	validate *validator.Validate
	shape    *fhir.Validator
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New(), shape: fhir.NewValidator()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/questionnaires", h.ListQuestionnaires)
	api.POST("/questionnaires", h.CreateQuestionnaire)
	api.POST("/questionnaires/import", h.ImportQuestionnaire)

	q := api.Group("/questionnaires/:id")
	q.GET("", h.GetQuestionnaire)
	q.DELETE("", h.DeleteQuestionnaire)
	q.POST("/actions", h.DispatchActions)
	q.GET("/fhir", h.GenerateQuestionnaire)
	q.GET("/validate", h.ValidateQuestionnaire)
	q.GET("/translations.csv", h.ExportTranslations)
	q.POST("/translations.csv", h.ImportTranslations)
	q.POST("/translations/:lang", h.UploadTranslation)
	q.POST("/valuesets/fetch", h.FetchValueSets)
	q.POST("/publish", h.Publish)
}

// -- Request bodies --

type createRequest struct {
	ID       string `json:"id" validate:"omitempty,max=64"`
	Language string `json:"language" validate:"omitempty,oneof=nb-NO nn-NO en-GB se-NO"`
}

type actionRequest struct {
	Kind    string          `json:"kind" validate:"required"`
	Payload json.RawMessage `json:"payload"`
}

type actionsRequest struct {
	Actions []actionRequest `json:"actions" validate:"required,min=1,dive"`
}

type fetchRequest struct {
	URL string `json:"url" validate:"required,url"`
}

type importResponse struct {
	Questionnaire Summary  `json:"questionnaire"`
	Skipped       []string `json:"skipped"`
}

type fetchResponse struct {
	Questionnaire Summary `json:"questionnaire"`
	Imported      int     `json:"imported"`
}

// -- Endpoints --

func (h *Handler) ListQuestionnaires(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) CreateQuestionnaire(c echo.Context) error {
	var req createRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	snap, err := h.svc.Create(c.Request().Context(), req.ID, req.Language)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, snap)
}

func (h *Handler) ImportQuestionnaire(c echo.Context) error {
	data, err := h.readDocument(c)
	if err != nil {
		return err
	}
	snap, err := h.svc.Import(c.Request().Context(), data)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, snap)
}

func (h *Handler) GetQuestionnaire(c echo.Context) error {
	snap, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) DeleteQuestionnaire(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DispatchActions(c echo.Context) error {
	var req actionsRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	actions := make([]questionnaire.Action, 0, len(req.Actions))
	for _, a := range req.Actions {
		action, err := questionnaire.DecodeAction(a.Kind, a.Payload)
		if err != nil {
			return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
		}
		actions = append(actions, action)
	}
	snap, err := h.svc.Dispatch(c.Request().Context(), c.Param("id"), actions...)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) GenerateQuestionnaire(c echo.Context) error {
	doc, err := h.svc.Generate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Blob(http.StatusOK, blobstore.ContentTypeFHIRJSON, doc)
}

// ValidateQuestionnaire reports the validation errors as an OperationOutcome.
// ?lang selects the message language.
func (h *Handler) ValidateQuestionnaire(c echo.Context) error {
	errs, err := h.svc.Validate(c.Request().Context(), c.Param("id"), c.QueryParam("lang"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, validation.Outcome(errs))
}

// ExportTranslations downloads the translation sheet. ?lang takes a comma
// separated list of languages.
func (h *Handler) ExportTranslations(c echo.Context) error {
	var languages []string
	if v := c.QueryParam("lang"); v != "" {
		languages = strings.Split(v, ",")
	}
	table, err := h.svc.ExportTranslations(c.Request().Context(), c.Param("id"), languages)
	if err != nil {
		return errorResponse(c, err)
	}
	var buf bytes.Buffer
	if err := translation.WriteCSV(&buf, table); err != nil {
		return errorResponse(c, err)
	}
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, c.Param("id")))
	return c.Blob(http.StatusOK, blobstore.ContentTypeCSV, buf.Bytes())
}

func (h *Handler) ImportTranslations(c echo.Context) error {
	r := io.LimitReader(c.Request().Body, MaxUploadSize)
	snap, res, err := h.svc.ImportTranslations(c.Request().Context(), c.Param("id"), r)
	if err != nil {
		return errorResponse(c, err)
	}
	skipped := res.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	return c.JSON(http.StatusOK, importResponse{Questionnaire: snap.Summary(), Skipped: skipped})
}

func (h *Handler) UploadTranslation(c echo.Context) error {
	data, err := h.readDocument(c)
	if err != nil {
		return err
	}
	snap, err := h.svc.UploadTranslation(c.Request().Context(), c.Param("id"), c.Param("lang"), data)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) FetchValueSets(c echo.Context) error {
	var req fetchRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	snap, n, err := h.svc.FetchValueSets(c.Request().Context(), c.Param("id"), req.URL)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, fetchResponse{Questionnaire: snap.Summary(), Imported: n})
}

func (h *Handler) Publish(c echo.Context) error {
	blobs, err := h.svc.Publish(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, blobs)
}

// -- Helpers --

func readBody(c echo.Context) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, MaxUploadSize+1))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(data) > MaxUploadSize {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	return data, nil
}

// readDocument reads a posted Questionnaire or Bundle and rejects bodies
// that do not have the shape the mapper reads.
func (h *Handler) readDocument(c echo.Context) ([]byte, error) {
	data, err := readBody(c)
	if err != nil {
		return nil, err
	}
	if res := h.shape.ValidateUpload(data); !res.Valid {
		return nil, echo.NewHTTPError(http.StatusBadRequest, res.ToOperationOutcome())
	}
	return data, nil
}

// bind decodes a JSON body into v and checks its validate tags.
func (h *Handler) bind(c echo.Context, v interface{}) error {
	data, err := readBody(c)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fhir.ErrorOutcome("invalid request body: "+err.Error()))
		}
	}
	if err := h.validate.Struct(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, requestOutcome(err))
	}
	return nil
}

// requestOutcome turns validator errors into one issue per field.
func requestOutcome(err error) *fhir.OperationOutcome {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fhir.ErrorOutcome(err.Error())
	}
	issues := make([]fhir.OperationOutcomeIssue, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, fhir.OperationOutcomeIssue{
			Severity:    fhir.IssueSeverityError,
			Code:        fhir.IssueTypeInvalid,
			Diagnostics: fmt.Sprintf("%s failed on the '%s' rule", fe.Field(), fe.Tag()),
			Expression:  []string{fe.Namespace()},
		})
	}
	return fhir.MultiValidationOutcome(issues)
}

func errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome(fhir.ResourceQuestionnaire, c.Param("id")))
	case errors.Is(err, ErrSnapshotExists):
		return c.JSON(http.StatusConflict, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeDuplicate, err.Error()))
	case errors.Is(err, ErrTerminologyDisabled), errors.Is(err, ErrExportsDisabled):
		return c.JSON(http.StatusNotImplemented, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported, err.Error()))
	case errors.Is(err, terminology.ErrUnexpectedStatus),
		errors.Is(err, terminology.ErrUnexpectedResource),
		errors.Is(err, terminology.ErrNoValueSets),
		errors.Is(err, terminology.ErrResponseTooLarge):
		return c.JSON(http.StatusBadGateway, fhir.ErrorOutcome(err.Error()))
	case errors.Is(err, ErrInvalidDocument),
		errors.Is(err, mapper.ErrUnsupportedResource),
		errors.Is(err, mapper.ErrEmptyBundle),
		errors.Is(err, translation.ErrInvalidKey),
		errors.Is(err, translation.ErrInvalidSheet):
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeStructure, err.Error()))
	case isDomainError(err):
		return c.JSON(http.StatusUnprocessableEntity, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeBusinessRule, err.Error()))
	}
	return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error()))
}

var domainErrors = []error{
	questionnaire.ErrItemNotFound,
	questionnaire.ErrDuplicateLinkID,
	questionnaire.ErrInvalidMove,
	questionnaire.ErrUnknownLanguage,
	questionnaire.ErrUnsupportedLanguage,
	questionnaire.ErrMainLanguage,
	questionnaire.ErrNotTranslatable,
	questionnaire.ErrValueSetNotFound,
	questionnaire.ErrValueSetInUse,
	questionnaire.ErrUnknownAction,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

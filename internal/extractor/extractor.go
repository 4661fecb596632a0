package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mixelka/repa/internal/llm"
	"github.com/mixelka/repa/pkg/models"
)

// InputParseError is returned when the model output could not be fully decoded.
// Fields lists the fields that were dropped. It is empty when the whole document was rejected.
type InputParseError struct {
	Fields []string
	Err    error
}

func (e *InputParseError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("criteria extraction dropped fields %s", strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("criteria extraction failed: %v", e.Err)
}

func (e *InputParseError) Unwrap() error {
	return e.Err
}

// Extractor turns free text into structured criteria
type Extractor struct {
	llm    llm.Completer
	model  string
	logger *slog.Logger
}

// New creates a new criteria extractor
func New(completer llm.Completer, model string, logger *slog.Logger) *Extractor {
	return &Extractor{
		llm:    completer,
		model:  model,
		logger: logger.With("component", "extractor"),
	}
}

// Extract returns the criteria stated in text.
// On failure it returns the criteria it could decode, possibly empty, and an *InputParseError.
func (e *Extractor) Extract(ctx context.Context, text string) (models.UserCriteria, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.UserCriteria{}, nil
	}

	out, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Model:       e.model,
		System:      systemPrompt,
		User:        fmt.Sprintf(userPromptTemplate, text),
		Temperature: 0.1,
		JSON:        true,
	})
	if err != nil {
		return models.UserCriteria{}, &InputParseError{Err: fmt.Errorf("completion: %w", err)}
	}

	obj, err := llm.DecodeObject(out)
	if err != nil {
		e.logger.Warn("Unparseable criteria response", "error", err)
		return models.UserCriteria{}, &InputParseError{Err: err}
	}

	criteria, dropped := Decode(obj)
	if len(dropped) > 0 {
		e.logger.Debug("Dropped criteria fields", "fields", dropped)
		return criteria, &InputParseError{Fields: dropped}
	}
	return criteria, nil
}

// criteriaSchema holds the constrained criteria fields before they are accepted
type criteriaSchema struct {
	PropertyType   *string  `json:"property_type" validate:"omitempty,oneof=rent buy"`
	MinRooms       *int     `json:"min_rooms" validate:"omitempty,gte=0"`
	MaxRooms       *int     `json:"max_rooms" validate:"omitempty,gte=0"`
	MinLivingSpace *float64 `json:"min_living_space" validate:"omitempty,gte=0"`
	MaxLivingSpace *float64 `json:"max_living_space" validate:"omitempty,gte=0"`
	MinRent        *float64 `json:"min_rent" validate:"omitempty,gte=0"`
	MaxRent        *float64 `json:"max_rent" validate:"omitempty,gte=0"`
	Occupants      *int     `json:"occupants" validate:"omitempty,gte=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := llm.NewValidator()
	v.RegisterStructValidation(validateRanges, criteriaSchema{})
	return v
}

// validateRanges rejects min/max pairs where both bounds are valid but inverted
func validateRanges(sl validator.StructLevel) {
	s := sl.Current().Interface().(criteriaSchema)
	if inverted(s.MinRooms, s.MaxRooms) {
		reportPair(sl, s.MinRooms, s.MaxRooms, "min_rooms", "MinRooms", "max_rooms", "MaxRooms")
	}
	if inverted(s.MinLivingSpace, s.MaxLivingSpace) {
		reportPair(sl, s.MinLivingSpace, s.MaxLivingSpace, "min_living_space", "MinLivingSpace", "max_living_space", "MaxLivingSpace")
	}
	if inverted(s.MinRent, s.MaxRent) {
		reportPair(sl, s.MinRent, s.MaxRent, "min_rent", "MinRent", "max_rent", "MaxRent")
	}
}

func inverted[T int | float64](lo, hi *T) bool {
	return lo != nil && hi != nil && *lo >= 0 && *hi >= 0 && *lo > *hi
}

func reportPair(sl validator.StructLevel, lo, hi any, loName, loField, hiName, hiField string) {
	sl.ReportError(lo, loName, loField, "ltefield", hiName)
	sl.ReportError(hi, hiName, hiField, "gtefield", loName)
}

// Decode builds criteria from a decoded model object, field by field.
// Returns the names of fields that were ill-typed or failed schema validation.
func Decode(obj llm.Object) (models.UserCriteria, []string) {
	d := decoder{obj: obj}

	s := criteriaSchema{
		MinRooms:       d.getInt("min_rooms"),
		MaxRooms:       d.getInt("max_rooms"),
		MinLivingSpace: d.getFloat("min_living_space"),
		MaxLivingSpace: d.getFloat("max_living_space"),
		MinRent:        d.getFloat("min_rent"),
		MaxRent:        d.getFloat("max_rent"),
		Occupants:      d.getInt("occupants"),
	}
	if pt := d.getStr("property_type"); pt != nil {
		lower := strings.ToLower(*pt)
		s.PropertyType = &lower
	}

	if fieldErrs := llm.FieldErrors(validate.Struct(s)); len(fieldErrs) > 0 {
		d.dropped = append(d.dropped, llm.ClearFields(&s, fieldErrs)...)
	}

	c := models.UserCriteria{
		Location:       d.getStr("location"),
		MinRooms:       s.MinRooms,
		MaxRooms:       s.MaxRooms,
		MinLivingSpace: s.MinLivingSpace,
		MaxLivingSpace: s.MaxLivingSpace,
		MinRent:        s.MinRent,
		MaxRent:        s.MaxRent,
		Occupants:      s.Occupants,
		Duration:       d.getStr("duration"),
		StartingWhen:   d.getStr("starting_when"),
	}
	if s.PropertyType != nil {
		p := models.PropertyType(*s.PropertyType)
		c.PropertyType = &p
	}
	c.AdditionalRequirements = d.getStrs("additional_requirements")
	c.EmailSender = d.getStr("email_sender")
	if kws := d.getStrs("email_subject_keywords"); len(kws) > 0 {
		c.EmailSubjectKeywords = models.ParseKeywords(strings.Join(kws, ","))
	}

	return c, d.dropped
}

type decoder struct {
	obj     llm.Object
	dropped []string
}

func (d *decoder) drop(field string) {
	d.dropped = append(d.dropped, field)
}

func (d *decoder) getStr(key string) *string {
	v, err := d.obj.GetString(key)
	if err != nil {
		d.drop(key)
	}
	return v
}

func (d *decoder) getStrs(key string) []string {
	v, err := d.obj.GetStrings(key)
	if err != nil {
		d.drop(key)
	}
	return v
}

func (d *decoder) getInt(key string) *int {
	v, err := d.obj.GetInt(key)
	if err != nil {
		d.drop(key)
	}
	return v
}

func (d *decoder) getFloat(key string) *float64 {
	v, err := d.obj.GetFloat(key)
	if err != nil {
		d.drop(key)
	}
	return v
}

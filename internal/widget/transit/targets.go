package transit

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/alexjbarnes/ambient-dash/internal/models"
)

// Target is one stop and direction shown on the board.
type Target struct {
	ID             string             `yaml:"id" validate:"required"`
	Kind           models.TransitKind `yaml:"kind" validate:"required,oneof=bus subway"`
	Route          string             `yaml:"route" validate:"required"`
	StopID         string             `yaml:"stop_id" validate:"required,numeric"`
	DirectionLabel string             `yaml:"direction_label" validate:"required"`
	RouteLabel     string             `yaml:"route_label"`
}

type targetsFile struct {
	Targets []Target `yaml:"targets" validate:"required,min=1,unique=ID,dive"`
}

// DefaultTargets is the Line 1 pair at King plus the 506 and 94
// surface routes in both directions.
func DefaultTargets() []Target {
	return []Target{
		{ID: "subway-south", Kind: models.TransitSubway, Route: "1", StopID: "13807", DirectionLabel: "UNION", RouteLabel: "1"},
		{ID: "subway-north", Kind: models.TransitSubway, Route: "1", StopID: "13808", DirectionLabel: "FINCH", RouteLabel: "1"},
		{ID: "506-west", Kind: models.TransitBus, Route: "506", StopID: "752", DirectionLabel: "WEST", RouteLabel: "506"},
		{ID: "506-east", Kind: models.TransitBus, Route: "506", StopID: "751", DirectionLabel: "EAST", RouteLabel: "506"},
		{ID: "94-west", Kind: models.TransitBus, Route: "94", StopID: "8627", DirectionLabel: "WEST", RouteLabel: "94"},
		{ID: "94-east", Kind: models.TransitBus, Route: "94", StopID: "8626", DirectionLabel: "EAST", RouteLabel: "94"},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(useYAMLTagNames)

	return v
}

func useYAMLTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
	if name == "-" {
		return ""
	}

	return name
}

// LoadTargets reads and validates a YAML targets file.
func LoadTargets(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading targets file: %w", err)
	}

	return ParseTargets(data)
}

// ParseTargets decodes and validates a YAML targets document.
func ParseTargets(data []byte) ([]Target, error) {
	var f targetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing targets file: %w", err)
	}

	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, fmt.Errorf("invalid targets file: %s", describe(verrs))
		}

		return nil, fmt.Errorf("invalid targets file: %w", err)
	}

	return f.Targets, nil
}

func describe(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))

	for _, fe := range errs {
		field := strings.TrimPrefix(fe.Namespace(), "targetsFile.")

		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+" needs at least "+fe.Param()+" entry")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value()))
		case "unique":
			msgs = append(msgs, field+" ids must be unique")
		case "numeric":
			msgs = append(msgs, fmt.Sprintf("%s must be numeric, got %q", field, fe.Value()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}

	return strings.Join(msgs, "; ")
}

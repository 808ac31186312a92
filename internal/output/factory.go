package output

import (
	"fmt"
	"io"
	"os"

	"go.mongodb.org/mongo-driver/mongo"

	"sluice/internal/broker"
	"sluice/internal/constants"
	"sluice/internal/logger"
	"sluice/pkg/cel"
	"sluice/pkg/models"
)

// Dependencies are the shared clients writers are built on. Unused ones may
// be nil.
type Dependencies struct {
	Mongo    *mongo.Database
	Producer broker.Producer
	Failures FailureIndex
	Console  io.Writer
}

// BuildDestinations creates one Destination per spec. Debug-only
// destinations and console writers are skipped unless debug is set.
func BuildDestinations(specs []models.Destination, debug bool, deps Dependencies, log logger.Logger) ([]*Destination, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}

	out := make([]*Destination, 0, len(specs))
	for _, spec := range specs {
		if !debug && (spec.DebugOnly || spec.Writer == constants.WriterConsole) {
			log.Infow("Skipping debug-only destination", "destination", spec.Name)
			continue
		}

		writer, err := NewWriter(spec, deps, log)
		if err != nil {
			return nil, err
		}
		d, err := NewDestination(spec, writer, evaluator, deps.Failures, log)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func NewWriter(spec models.Destination, deps Dependencies, log logger.Logger) (Writer, error) {
	switch spec.Writer {
	case constants.WriterMongo, "":
		if deps.Mongo == nil {
			return nil, fmt.Errorf("destination %q: mongo writer requires database.mongodb", spec.Name)
		}
		return NewMongoWriter(deps.Mongo, log.Named("mongo_writer")), nil

	case constants.WriterKafka:
		if deps.Producer == nil {
			return nil, fmt.Errorf("destination %q: kafka writer requires broker.kafka", spec.Name)
		}
		return NewKafkaWriter(deps.Producer, false), nil

	case constants.WriterConsole:
		out := deps.Console
		if out == nil {
			out = os.Stdout
		}
		return NewConsoleWriter(out), nil

	default:
		return nil, fmt.Errorf("destination %q: unknown writer %q", spec.Name, spec.Writer)
	}
}

// ValidateDestinations compiles predicates and target templates without
// connecting any writer.
func ValidateDestinations(specs []models.Destination) error {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return fmt.Errorf("destination name is required")
		}
		if seen[spec.Name] {
			return fmt.Errorf("duplicate destination name %q", spec.Name)
		}
		seen[spec.Name] = true

		switch spec.Writer {
		case "", constants.WriterMongo, constants.WriterKafka, constants.WriterConsole:
		default:
			return fmt.Errorf("destination %q: unknown writer %q", spec.Name, spec.Writer)
		}
		if _, err := NewDestination(spec, NewConsoleWriter(io.Discard), evaluator, nil, logger.NopLogger()); err != nil {
			return err
		}
	}
	return nil
}

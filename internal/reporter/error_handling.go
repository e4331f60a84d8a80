package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"conciliation-service/internal/reconciler"
	"conciliation-service/pkg/errors"
	"conciliation-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and a console
// fallback for failed structured output.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report",
			config,
			err,
		).WithSuggestion("use one of the formats console, json or csv")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely validates the inputs, generates the report and falls
// back to console output when a structured format fails.
func (srg *SafeReportGenerator) GenerateReportSafely(report *reconciler.RunReport, writer io.Writer) error {
	log := srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	})
	log.Debug("Starting report generation")

	if report == nil {
		return errors.InvalidRequestError(errors.CodeMissingField, "report", nil)
	}
	if writer == nil {
		return errors.InvalidRequestError(errors.CodeMissingField, "writer", nil)
	}

	err := srg.GenerateReport(report, writer)
	if err == nil {
		log.Debug("Report generation completed")
		return nil
	}
	log.WithError(err).Warn("Report generation failed")

	if srg.config.Format == FormatConsole {
		return srg.wrapGenerationError(err)
	}
	return srg.generateWithFormatFallback(report, writer, err)
}

func (srg *SafeReportGenerator) generateWithFormatFallback(report *reconciler.RunReport, writer io.Writer, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallbackGenerator, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: report rendered as console output after %s failed: %v\n\n", srg.config.Format, originalErr)
	if err := fallbackGenerator.GenerateReport(report, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}
	return nil
}

// WriteFile writes the report to path, creating parent directories
func (srg *SafeReportGenerator) WriteFile(report *reconciler.RunReport, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return srg.wrapGenerationError(err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return srg.wrapGenerationError(err)
	}
	if err := srg.GenerateReportSafely(report, file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return srg.wrapGenerationError(err)
	}

	srg.logger.WithField("path", path).Info("Report written")
	return nil
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("check the output destination and report format settings")
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return "file:" + w.Name()
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}

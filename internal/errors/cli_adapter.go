package errors

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	if pme, ok := err.(*PulpManagerError); ok {
		return a.exitCodeFromCategory(pme)
	}

	return 1
}

// exitCodeFromCategory maps PulpManagerError to exit codes.
func (a *CLIErrorAdapter) exitCodeFromCategory(err *PulpManagerError) int {
	switch err.Category {
	case CategoryInvalidArgument, CategoryFilter, CategoryPageSizeTooLarge:
		return 2 // Invalid usage
	case CategoryNotFound, CategoryInvalidState:
		return 4 // Lookup or state error
	case CategoryConfig:
		return 7 // Configuration error
	case CategoryUpstream, CategoryNetwork, CategoryGit, CategoryVault, CategoryExternalResourceMissing:
		return 8 // External system error
	case CategoryStorage, CategoryIntegrity:
		return 9 // Storage error
	case CategoryQueue:
		return 12 // Queue error
	case CategoryInternal:
		return 10 // Internal error
	default:
		return 1 // General error
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	if pme, ok := err.(*PulpManagerError); ok {
		return a.formatStructured(pme)
	}

	return fmt.Sprintf("Error: %v", err)
}

// formatStructured formats a PulpManagerError for display.
func (a *CLIErrorAdapter) formatStructured(err *PulpManagerError) string {
	if a.verbose {
		return err.Error()
	}

	switch err.Category {
	case CategoryConfig, CategoryInvalidArgument, CategoryFilter:
		return err.Message
	default:
		return fmt.Sprintf("%s: %s", err.Category, err.Message)
	}
}

// HandleError processes an error and exits the program with appropriate code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}

	exitCode := a.ExitCodeFor(err)
	message := a.FormatError(err)

	if a.shouldLog(err) {
		a.logError(err)
	}

	fmt.Fprintf(os.Stderr, "%s\n", message)
	os.Exit(exitCode)
}

// shouldLog determines if an error should be logged.
func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}

	if pme, ok := err.(*PulpManagerError); ok {
		return pme.Category == CategoryInternal ||
			pme.Category == CategoryStorage ||
			pme.Severity == SeverityFatal
	}

	return true
}

// logError logs an error with appropriate level and context.
func (a *CLIErrorAdapter) logError(err error) {
	if pme, ok := err.(*PulpManagerError); ok {
		level := a.slogLevelFromSeverity(pme.Severity)
		attrs := []slog.Attr{
			slog.String("category", string(pme.Category)),
		}
		if pme.Retryable {
			attrs = append(attrs, slog.Bool("retryable", true))
		}

		a.logger.LogAttrs(context.Background(), level, pme.Message, attrs...)
		return
	}

	a.logger.Error("Unclassified error", "error", err)
}

// slogLevelFromSeverity converts PulpManagerError severity to slog level.
func (a *CLIErrorAdapter) slogLevelFromSeverity(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityFatal:
		return slog.LevelError
	default:
		return slog.LevelError
	}
}

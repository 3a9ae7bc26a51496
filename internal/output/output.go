package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"ufo/internal/ufo"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitError       = 1
	ExitNetwork     = 2
	ExitTimeout     = 3
	ExitNotFound    = 4
	ExitInterrupted = 130
)

var (
	flagJSON    bool
	flagQuiet   bool
	flagVerbose bool
)

// SetFlags is called by the root command's PersistentPreRun to propagate flag values.
func SetFlags(jsonMode, quiet, verbose bool) {
	flagJSON = jsonMode
	flagQuiet = quiet
	flagVerbose = verbose
}

// IsJSON returns true when --json mode is active.
func IsJSON() bool { return flagJSON }

// IsQuiet returns true when --quiet mode is active.
func IsQuiet() bool { return flagQuiet }

// IsVerbose returns true when --verbose mode is active.
func IsVerbose() bool { return flagVerbose }

// PrintJSON marshals v as JSON and writes it to w.
func PrintJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// PrintError writes a JSON error envelope to w.
func PrintError(w io.Writer, code string, message string) error {
	return PrintJSON(w, map[string]string{
		"error":   code,
		"message": message,
	})
}

// errorCodes maps the engine's sentinel errors to the short machine-readable
// codes that ErrorCode reports in a --json error envelope.
var errorCodes = []struct {
	err  error
	code string
}{
	{ufo.ErrUnknownObject, "unknown_object"},
	{ufo.ErrEngineShutdown, "engine_shutdown"},
	{ufo.ErrChunkTooLarge, "chunk_too_large"},
	{ufo.ErrCacheExhausted, "cache_exhausted"},
	{ufo.ErrOverlappingSegment, "overlapping_segment"},
	{ufo.ErrWatermarkInversion, "watermark_inversion"},
	{ufo.ErrInvalidConfig, "invalid_config"},
	{ufo.ErrUnsupportedPlatform, "unsupported_platform"},
}

// ErrorCode classifies err against the engine's sentinel errors, for use as
// the "error" field of a JSON error envelope. Errors that don't match any
// known sentinel report the generic "error" code.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "error"
}

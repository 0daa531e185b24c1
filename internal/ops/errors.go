package ops

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUsage marks caller mistakes: missing identifiers, ambiguous override
	// matching, path separators in supplied names.
	ErrUsage = errors.New("usage error")
	// ErrConflict marks consistency conflicts that stop the current unit
	// (a recording or a session) while earlier units stay valid.
	ErrConflict = errors.New("consistency conflict")
	// ErrIO marks storage-layer failures.
	ErrIO       = errors.New("i/o failure")
	ErrNotFound = errors.New("not found")
)

// Kind is the coarse error class used for reporting and exit codes.
type Kind string

const (
	KindUsage    Kind = "usage"
	KindConflict Kind = "conflict"
	KindIO       Kind = "io"
	KindNotFound Kind = "not_found"
	KindInternal Kind = "internal"
)

// Wrap builds an error message that includes operation context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, operation, step, message string, err error) error {
	detail := buildDetail(operation, step, message)
	if marker == nil {
		marker = ErrIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error onto its Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUsage):
		return KindUsage
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindInternal
	}
}

// ExitCode returns the process exit status for err.
func ExitCode(err error) int {
	switch Classify(err) {
	case "":
		return 0
	case KindUsage:
		return 2
	case KindConflict:
		return 3
	case KindIO, KindNotFound:
		return 4
	default:
		return 1
	}
}

func buildDetail(operation, step, message string) string {
	parts := make([]string, 0, 3)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if step = strings.TrimSpace(step); step != "" {
		parts = append(parts, step)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "operation failure"
	}
	return strings.Join(parts, ": ")
}

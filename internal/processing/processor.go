package processing

import (
	"context"

	"github.com/MRwang520a/pixelstudio-api/internal/domain"
)

// Request carries everything a processor needs for one invocation.
type Request struct {
	// TaskType selects the transformation to perform.
	TaskType domain.TaskType

	// InputRef references the source image. Empty for designer tasks.
	InputRef string

	// Parameters is the task's open payload (prompt, scale, targetLang, ...).
	Parameters domain.Params
}

// Result is the outcome of a successful processor invocation.
type Result struct {
	// OutputRef references the produced image.
	OutputRef string

	// Metadata holds type-dependent result data merged into the task's
	// parameters on completion (e.g. originalText/translatedText for
	// translate tasks).
	Metadata domain.Params
}

// Processor defines the interface to the external AI image-transformation
// routines. This interface is the boundary between the orchestration core
// and the external provider: implementations may take arbitrary time and
// fail with any error, so callers must wrap invocations with a timeout and
// record failures rather than propagate them.
type Processor interface {
	// Process performs the transformation described by req.
	// Returns the output reference and result metadata, or an error
	// (see errors.go for the error kinds callers can test for).
	Process(ctx context.Context, req Request) (*Result, error)
}

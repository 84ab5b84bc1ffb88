package describe

import "context"

// Prompt is the shared instruction sent alongside every observation photo.
const Prompt = `Describe this berry photo for a growth log. Note color, shape,
approximate size, ripeness, and any visible damage or disease.
Two or three sentences of plain text.`

// Describer turns an observation photo into a short text description. It is
// an optional collaborator: callers retry a bounded number of times and fall
// back to a default description on any failure, never failing the operation.
type Describer interface {
	Describe(ctx context.Context, imagePath string) (string, error)
}

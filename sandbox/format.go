package sandbox

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/martinemde/agentcore/truncate"
)

// MaxOutputLines caps the lines of command output shown to the model,
// whatever the byte budget allows.
const MaxOutputLines = 256

// FormatOutput renders a command result for the model: the aggregated
// output, cut to MaxOutputLines and then truncated under p, preceded by a
// note when the command timed out.
func FormatOutput(out Output, p truncate.Policy) string {
	content := truncate.Lines(out.AggregatedOutput, MaxOutputLines)
	if out.TimedOut {
		content = fmt.Sprintf("command timed out after %d milliseconds\n", out.Duration.Milliseconds()) + content
	}
	return truncate.Text(content, p)
}

type formattedMetadata struct {
	ExitCode        int     `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type formattedExec struct {
	Output   string            `json:"output"`
	Metadata formattedMetadata `json:"metadata"`
}

// FormatForModel renders the JSON tool-result body used by shell tools.
func FormatForModel(out Output, p truncate.Policy) string {
	body := formattedExec{
		Output: FormatOutput(out, p),
		Metadata: formattedMetadata{
			ExitCode:        out.ExitCode,
			DurationSeconds: math.Round(out.Duration.Seconds()*10) / 10,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return body.Output
	}
	return string(data)
}

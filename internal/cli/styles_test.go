package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatters(t *testing.T) {
	assert.Contains(t, FormatSuccess("done"), SuccessIcon+" done")
	assert.Contains(t, FormatError("broken"), ErrorIcon+" broken")
	assert.Contains(t, FormatWarning("careful"), "careful")
	assert.Contains(t, FormatTitle("Final tally"), "Final tally")

	for _, status := range []string{"completed", "failed", "running"} {
		assert.Contains(t, FormatStatus(status), status)
	}
}

func TestRenderBox(t *testing.T) {
	out := RenderBox("Summary", "Boxes processed: 3 of 3")
	assert.Contains(t, out, "Summary")
	assert.Contains(t, out, "Boxes processed: 3 of 3")
	assert.Contains(t, out, "╭")
}

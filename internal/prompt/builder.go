// Package prompt composes the few-shot prompts sent to the model. Section
// order is fixed (instruction, output shape, examples, live input) and
// examples keep their declaration order, so identical inputs always produce
// identical prompt text.
package prompt

import (
	"fmt"
	"strings"

	"apprentice/internal/schema"
	"apprentice/internal/signature"
)

// SystemInstruction is sent as the system prompt on every call. The task
// instruction itself travels in the user prompt so few-shot examples sit
// next to it.
const SystemInstruction = "You perform a single, well-defined task. " +
	"Respond with exactly one value matching the requested shape and nothing else. " +
	"No explanations, no markdown fences."

const sectionSeparator = "\n\n"

// Example is one (input, expected output) pair, already serialized to the
// canonical JSON used on the wire.
type Example struct {
	InputsJSON   string
	ExpectedJSON string
}

// Build assembles the prompt for one call. With zero examples the prompt
// degrades to zero-shot: instruction, shape, and input only.
func Build(sig signature.Signature, examples []Example, liveInputJSON string) string {
	var sections []string

	sections = append(sections, "Task: "+strings.TrimSpace(sig.Prompt))
	sections = append(sections, "Output shape:\n"+renderShape(sig.Output))

	if len(examples) > 0 {
		var sb strings.Builder
		sb.WriteString("Examples:")
		for _, ex := range examples {
			sb.WriteString("\nInput: ")
			sb.WriteString(ex.InputsJSON)
			sb.WriteString("\nOutput: ")
			sb.WriteString(ex.ExpectedJSON)
		}
		sections = append(sections, sb.String())
	}

	sections = append(sections, "Input: "+liveInputJSON+"\nOutput:")

	return strings.Join(sections, sectionSeparator)
}

// BuildRepair composes the re-prompt issued after a decode failure. It
// embeds the original prompt, the invalid raw output, and the specific
// validation failure, and asks for a corrected response.
func BuildRepair(original, invalidRaw, reason string) string {
	var sb strings.Builder
	sb.WriteString(original)
	sb.WriteString(sectionSeparator)
	sb.WriteString("Your previous response was invalid.\n")
	sb.WriteString("Previous response: ")
	sb.WriteString(strings.TrimSpace(invalidRaw))
	sb.WriteString("\nProblem: ")
	sb.WriteString(reason)
	sb.WriteString("\nRespond again with exactly one value matching the output shape.")
	return sb.String()
}

func renderShape(desc *schema.Descriptor) string {
	rendered := desc.Render()
	if desc.Kind == schema.KindObject || desc.Kind == schema.KindList {
		return rendered
	}
	return fmt.Sprintf("a single JSON value: %s", rendered)
}

package plan

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Requirement is a parsed requirement file: a scenario name plus an ordered
// step list.
type Requirement struct {
	Scenario string
	Steps    []Step
}

// ParseFile reads a plain-text requirement file. The first non-empty,
// non-comment line names the scenario (an optional "Scenario:" prefix is
// stripped); every following line must match the step grammar
//
//	<action> <label> [within <landmark>] [= <value>]
//
// Everything right of the first "=" is the literal value, so a value may
// itself contain the word "within".
//
// Free prose is rejected here; turning prose into steps is the planner's
// job, not the engine's.
func ParseFile(path string) (*Requirement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open requirement file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a requirement document from r.
func Parse(r io.Reader) (*Requirement, error) {
	req := &Requirement{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if req.Scenario == "" {
			req.Scenario = strings.TrimSpace(strings.TrimPrefix(line, "Scenario:"))
			continue
		}
		step, err := ParseStepLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		req.Steps = append(req.Steps, step)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if req.Scenario == "" {
		return nil, fmt.Errorf("requirement file has no scenario header")
	}
	return req, nil
}

// ParseStepLine parses one step line of the requirement grammar.
func ParseStepLine(line string) (Step, error) {
	var step Step

	// "= <value>" splits first; the value side is literal text and is never
	// scanned for clauses.
	if label, value, ok := strings.Cut(line, "="); ok {
		step.Value = strings.TrimSpace(value)
		line = strings.TrimSpace(label)
	}

	// "within <landmark>" is a trailing clause on the label side.
	if strings.HasSuffix(line, " within") {
		return Step{}, fmt.Errorf("empty landmark after %q", "within")
	}
	if idx := lastIndexWord(line, "within"); idx >= 0 {
		step.Within = strings.TrimSpace(line[idx+len("within"):])
		line = strings.TrimSpace(line[:idx])
		if step.Within == "" {
			return Step{}, fmt.Errorf("empty landmark after %q", "within")
		}
	}

	verb, rest, ok := strings.Cut(line, " ")
	if !ok && Action(strings.ToLower(line)) != ActionWait {
		return Step{}, fmt.Errorf("step %q has no label", line)
	}
	action, err := ParseAction(verb)
	if err != nil {
		return Step{}, err
	}
	step.Action = action
	step.Label = strings.TrimSpace(rest)
	if step.Label == "" && action != ActionWait {
		return Step{}, fmt.Errorf("action %q requires a label", action)
	}
	if action.NeedsValue() && step.Value == "" {
		return Step{}, fmt.Errorf("action %q requires a value (use %q)", action, "= <value>")
	}
	return step, nil
}

// lastIndexWord finds the last whitespace-delimited occurrence of word.
func lastIndexWord(s, word string) int {
	idx := strings.LastIndex(s, " "+word+" ")
	if idx < 0 {
		return -1
	}
	return idx + 1
}

// Package dice implements the dice-rolling engine: standard RPG
// notation parsing, modifiers, and advantage/disadvantage semantics
// for d20 rolls.
package dice

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

// Limits on a single roll.
const (
	MinDice  = 1
	MaxDice  = 100
	MinSides = 2
	MaxSides = 1000
)

// notationRe matches standard dice notation: "1d20", "2d6", "4d8+3".
var notationRe = regexp.MustCompile(`(?i)^(\d+)d(\d+)([+-]\d+)?$`)

// InvalidNotationError reports a notation string that does not match
// the NdS[+/-M] grammar.
type InvalidNotationError struct {
	Notation string
}

func (e *InvalidNotationError) Error() string {
	return "Invalid dice notation. Use format like '1d20', '2d6', '4d8+3'"
}

// InvalidParametersError reports dice parameters outside the allowed
// ranges.
type InvalidParametersError struct {
	Reason string
}

func (e *InvalidParametersError) Error() string {
	return e.Reason
}

// Spec describes one roll. Either Notation is set (parsed via the
// grammar) or NumDice/NumSides/Modifier are given directly.
type Spec struct {
	Notation     string `json:"dice_notation,omitempty"`
	NumDice      int    `json:"num_dice,omitempty"`
	NumSides     int    `json:"num_sides,omitempty"`
	Modifier     int    `json:"modifier,omitempty"`
	Advantage    bool   `json:"advantage,omitempty"`
	Disadvantage bool   `json:"disadvantage,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Result is the outcome of a roll. For advantage/disadvantage rolls,
// Rolls holds both raw d20s and SelectedRoll the one that counted.
type Result struct {
	Notation     string `json:"dice_notation"`
	Description  string `json:"description,omitempty"`
	Rolls        []int  `json:"rolls"`
	Advantage    bool   `json:"advantage,omitempty"`
	Disadvantage bool   `json:"disadvantage,omitempty"`
	SelectedRoll int    `json:"selected_roll,omitempty"`
	Modifier     int    `json:"modifier"`
	Total        int    `json:"total"`
	Breakdown    string `json:"breakdown"`
}

// Map renders the result as a tool-result object, the shape embedded
// in conversation history and note action history.
func (r *Result) Map() map[string]any {
	m := map[string]any{
		"success":       true,
		"dice_notation": r.Notation,
		"rolls":         r.Rolls,
		"modifier":      r.Modifier,
		"total":         r.Total,
		"breakdown":     r.Breakdown,
	}
	if r.Description != "" {
		m["description"] = r.Description
	}
	if r.Advantage {
		m["advantage"] = true
		m["selected_roll"] = r.SelectedRoll
	}
	if r.Disadvantage {
		m["disadvantage"] = true
		m["selected_roll"] = r.SelectedRoll
	}
	return m
}

// Source yields die faces. *rand.Rand satisfies it; tests inject a
// scripted implementation for reproducible rolls.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Roller rolls dice from a Source.
type Roller struct {
	rng Source
}

// New creates a Roller backed by the given source. A nil source falls
// back to the process-wide random source.
func New(rng Source) *Roller {
	if rng == nil {
		rng = globalSource{}
	}
	return &Roller{rng: rng}
}

// NewSeeded creates a deterministic Roller from a seed.
func NewSeeded(seed uint64) *Roller {
	return New(rand.New(rand.NewPCG(seed, seed)))
}

var defaultRoller = New(globalSource{})

// Roll rolls with the process-wide random source.
func Roll(spec Spec) (*Result, error) {
	return defaultRoller.Roll(spec)
}

// RollNotation parses a notation string and rolls it with the
// process-wide random source.
func RollNotation(notation string) (*Result, error) {
	return defaultRoller.RollNotation(notation)
}

// ParseNotation parses "NdS", "NdS+M", or "NdS-M" into a Spec. The
// original notation is preserved for display.
func ParseNotation(notation string) (Spec, error) {
	m := notationRe.FindStringSubmatch(strings.TrimSpace(notation))
	if m == nil {
		return Spec{}, &InvalidNotationError{Notation: notation}
	}

	numDice, _ := strconv.Atoi(m[1])
	numSides, _ := strconv.Atoi(m[2])
	modifier := 0
	if m[3] != "" {
		modifier, _ = strconv.Atoi(m[3])
	}

	return Spec{
		Notation: notation,
		NumDice:  numDice,
		NumSides: numSides,
		Modifier: modifier,
	}, nil
}

// RollNotation parses a notation string and rolls it.
func (r *Roller) RollNotation(notation string) (*Result, error) {
	spec, err := ParseNotation(notation)
	if err != nil {
		return nil, err
	}
	return r.Roll(spec)
}

// Roll validates the spec and performs the roll. Advantage and
// disadvantage apply only to a plain 1d20; on any other dice the flags
// are ignored.
func (r *Roller) Roll(spec Spec) (*Result, error) {
	if spec.Notation != "" && (spec.NumDice == 0 && spec.NumSides == 0) {
		parsed, err := ParseNotation(spec.Notation)
		if err != nil {
			return nil, err
		}
		parsed.Advantage = spec.Advantage
		parsed.Disadvantage = spec.Disadvantage
		parsed.Description = spec.Description
		spec = parsed
	}

	if err := validate(spec); err != nil {
		return nil, err
	}

	if (spec.Advantage || spec.Disadvantage) && spec.NumDice == 1 && spec.NumSides == 20 {
		return r.rollWithAdvantage(spec), nil
	}

	rolls := make([]int, spec.NumDice)
	sum := 0
	for i := range rolls {
		rolls[i] = r.die(spec.NumSides)
		sum += rolls[i]
	}
	total := sum + spec.Modifier

	return &Result{
		Notation:    notationString(spec),
		Description: spec.Description,
		Rolls:       rolls,
		Modifier:    spec.Modifier,
		Total:       total,
		Breakdown: fmt.Sprintf("Rolled %dd%d: %s%s = %d",
			spec.NumDice, spec.NumSides, formatRolls(rolls), modifierString(spec.Modifier), total),
	}, nil
}

func (r *Roller) rollWithAdvantage(spec Spec) *Result {
	roll1 := r.die(20)
	roll2 := r.die(20)

	selected := max(roll1, roll2)
	mode := "advantage"
	if spec.Disadvantage && !spec.Advantage {
		selected = min(roll1, roll2)
		mode = "disadvantage"
	}
	total := selected + spec.Modifier

	res := &Result{
		Notation:     notationString(spec),
		Description:  spec.Description,
		Rolls:        []int{roll1, roll2},
		SelectedRoll: selected,
		Modifier:     spec.Modifier,
		Total:        total,
		Breakdown: fmt.Sprintf("Rolled with %s: [%d, %d], took %d%s = %d",
			mode, roll1, roll2, selected, modifierString(spec.Modifier), total),
	}
	if mode == "advantage" {
		res.Advantage = true
	} else {
		res.Disadvantage = true
	}
	return res
}

func (r *Roller) die(sides int) int {
	return r.rng.IntN(sides) + 1
}

func validate(spec Spec) error {
	if spec.NumSides == 0 {
		return &InvalidParametersError{Reason: "Number of sides is required"}
	}
	if spec.NumDice < MinDice || spec.NumDice > MaxDice {
		return &InvalidParametersError{Reason: "Number of dice must be between 1 and 100"}
	}
	if spec.NumSides < MinSides || spec.NumSides > MaxSides {
		return &InvalidParametersError{Reason: "Number of sides must be between 2 and 1000"}
	}
	return nil
}

// notationString echoes the caller's notation verbatim, or rebuilds the
// canonical form from the parts.
func notationString(spec Spec) string {
	if spec.Notation != "" {
		return spec.Notation
	}
	s := fmt.Sprintf("%dd%d", spec.NumDice, spec.NumSides)
	if spec.Modifier > 0 {
		s += fmt.Sprintf("+%d", spec.Modifier)
	} else if spec.Modifier < 0 {
		s += strconv.Itoa(spec.Modifier)
	}
	return s
}

func modifierString(modifier int) string {
	switch {
	case modifier > 0:
		return fmt.Sprintf("+%d", modifier)
	case modifier < 0:
		return strconv.Itoa(modifier)
	default:
		return ""
	}
}

func formatRolls(rolls []int) string {
	parts := make([]string, len(rolls))
	for i, r := range rolls {
		parts[i] = strconv.Itoa(r)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

package score

import (
	"net/url"
	"strconv"
	"strings"
)

// Command is a score-editing command understood by the site's POST /command.
type Command interface {
	// Name is the value of the "command" form field.
	Name() string
	// Form validates the command and returns its form fields, "command" included.
	Form() (url.Values, error)
}

// CommandError is a command rejected before it was sent. Its message is the one
// the site itself answers with.
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

func form(name string, kv ...string) url.Values {
	v := url.Values{"command": {name}}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

// Transpose moves the score by a number of semitones. Semitones is kept as text
// so an unparsable value is reported like the site does.
type Transpose struct {
	Semitones string
}

// TransposeBy returns a Transpose for n semitones.
func TransposeBy(n int) Transpose {
	return Transpose{Semitones: strconv.Itoa(n)}
}

func (Transpose) Name() string { return "transpose" }

func (c Transpose) Form() (url.Values, error) {
	if c.Semitones == "" {
		return nil, &CommandError{"Invalid transpose (no semitones specified)"}
	}
	if !isInteger(c.Semitones) {
		return nil, &CommandError{`Invalid transpose (invalid semitones specified: "` + c.Semitones + `")`}
	}
	return form(c.Name(), "semitones", c.Semitones), nil
}

// isInteger accepts what the site's integer parsing accepts: surrounding
// whitespace, an optional sign, and digits with single underscores between them.
func isInteger(s string) bool {
	s = strings.TrimSpace(s)
	if s != "" && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	if s == "" || s[0] == '_' || s[len(s)-1] == '_' || strings.Contains(s, "__") {
		return false
	}
	for _, r := range s {
		if r != '_' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// ArrangementType selects the voices a barbershop arrangement is built from.
type ArrangementType string

const (
	UpperVoices ArrangementType = "UpperVoices"
	LowerVoices ArrangementType = "LowerVoices"
)

// ShopIt turns the score into a barbershop arrangement.
type ShopIt struct {
	ArrangementType ArrangementType
}

func (ShopIt) Name() string { return "shopIt" }

func (c ShopIt) Form() (url.Values, error) {
	switch c.ArrangementType {
	case "":
		return nil, &CommandError{"Invalid shopIt (no arrangementType specified)"}
	case UpperVoices, LowerVoices:
		return form(c.Name(), "arrangementType", string(c.ArrangementType)), nil
	}
	return nil, &CommandError{`Invalid shopIt (invalid arrangementType specified: "` + string(c.ArrangementType) + `")`}
}

// ChooseChordOption picks one of the reharmonisation options shown in the score.
type ChooseChordOption struct {
	ChordOptionID string
}

func (ChooseChordOption) Name() string { return "chooseChordOption" }

func (c ChooseChordOption) Form() (url.Values, error) {
	if c.ChordOptionID == "" {
		return nil, &CommandError{"Invalid chooseChordOption (no chordOptionId specified)"}
	}
	return form(c.Name(), "chordOptionId", c.ChordOptionID), nil
}

// HideChordOptions removes the reharmonisation options from the score.
type HideChordOptions struct{}

func (HideChordOptions) Name() string                { return "hideChordOptions" }
func (c HideChordOptions) Form() (url.Values, error) { return form(c.Name()), nil }

type Undo struct{}

func (Undo) Name() string                { return "undo" }
func (c Undo) Form() (url.Values, error) { return form(c.Name()), nil }

type Redo struct{}

func (Redo) Name() string                { return "redo" }
func (c Redo) Form() (url.Values, error) { return form(c.Name()), nil }

// ParseCommand builds a command from its name and parameters, as typed on a
// command line. Parameters are validated when the command is sent.
func ParseCommand(name string, params map[string]string) (Command, error) {
	switch name {
	case "transpose":
		return Transpose{Semitones: params["semitones"]}, nil
	case "shopIt":
		return ShopIt{ArrangementType: ArrangementType(params["arrangementType"])}, nil
	case "chooseChordOption":
		return ChooseChordOption{ChordOptionID: params["chordOptionId"]}, nil
	case "hideChordOptions":
		return HideChordOptions{}, nil
	case "undo":
		return Undo{}, nil
	case "redo":
		return Redo{}, nil
	}
	return nil, &CommandError{"Invalid music engine command: " + name}
}

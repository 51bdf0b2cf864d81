package catalog

import "fmt"

// CommandKind names one of the three command templates a version carries.
type CommandKind string

const (
	CommandScore   CommandKind = "score"
	CommandPredict CommandKind = "predict"
	CommandRetrain CommandKind = "retrain"
)

func ParseCommandKind(s string) (CommandKind, error) {
	switch k := CommandKind(s); k {
	case CommandScore, CommandPredict, CommandRetrain:
		return k, nil
	default:
		return "", fmt.Errorf("unknown command kind %q", s)
	}
}

func (k CommandKind) String() string { return string(k) }

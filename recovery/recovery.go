package recovery

import "fmt"

// Strategy decides how the parser reacts to malformed input.
type Strategy interface {
	OnError(err error, location Location) Action
}

// Location pinpoints where in the file a problem was found.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

func (l Location) String() string {
	if l.ObjectNum > 0 {
		return fmt.Sprintf("%s object %d %d at offset %d", l.Component, l.ObjectNum, l.ObjectGen, l.ByteOffset)
	}
	return fmt.Sprintf("%s at offset %d", l.Component, l.ByteOffset)
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

// Decide runs s against err, treating a nil strategy as strict.
func Decide(s Strategy, err error, location Location) Action {
	if s == nil {
		return ActionFail
	}
	return s.OnError(err, location)
}

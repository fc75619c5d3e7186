package wire

import "github.com/san-kum/physync/internal/pose"

type CommandKind uint8

const (
	CommandTouch CommandKind = iota + 1
	CommandUntouch
	CommandGrab
	CommandUngrab
	CommandUse
	CommandUnuse
	CommandSleep
	CommandWake
)

var commandNames = map[CommandKind]string{
	CommandTouch:   "touch",
	CommandUntouch: "untouch",
	CommandGrab:    "grab",
	CommandUngrab:  "ungrab",
	CommandUse:     "use",
	CommandUnuse:   "unuse",
	CommandSleep:   "sleep",
	CommandWake:    "wake",
}

func (k CommandKind) String() string {
	if n, ok := commandNames[k]; ok {
		return n
	}
	return "unknown"
}

// Command is an interaction notification about one object, carried in the
// same batch as state records so it shares their bandwidth accounting.
type Command struct {
	Object pose.ObjectID `msgpack:"o"`
	Kind   CommandKind   `msgpack:"k"`
	// Actor identifies who caused the interaction, usually the sender id.
	Actor int16 `msgpack:"a"`
}

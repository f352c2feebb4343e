package logger

const (
	Debug   = "debug"
	Info    = "info"
	Warning = "warning"
	Error   = "error"
)

type Config struct {
	// debug, info, warning or error. Anything else logs at info.
	Level string

	// ServiceName is attached to every entry as the "service" field.
	ServiceName string
}

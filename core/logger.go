package core

// Logger is implemented by the application loggers.
// args may hold errors, maps of extra data, key/value pairs and the Profile performing the request.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Person identifies the authenticated caller attached to log entries.
type Person struct {
	ID    string
	Name  string
	Email string
}

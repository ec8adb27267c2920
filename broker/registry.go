package broker

import "fmt"

// Factory builds a Driver (sarama, memory, ...) for the given settings.
type Factory func(Settings) (Driver, error)

var registry = map[string]Factory{}

// Register is called from main (or a test) before NewDriver.
func Register(name string, f Factory) {
	registry[name] = f
}

// NewDriver returns a driver by name ("sarama", "memory").
func NewDriver(name string, s Settings) (Driver, error) {
	if f, ok := registry[name]; ok {
		return f(s)
	}
	return nil, fmt.Errorf("broker: unsupported driver %q", name)
}

package steps

// WithMatchers holds all registered step matchers and their handlers
var WithMatchers = map[string]HandlerFn{}

// HandlerFn is a function suitable for godog.Suite.Step()
type HandlerFn interface{}

func addStep(matcher string, handler HandlerFn) {
	WithMatchers[matcher] = handler
}

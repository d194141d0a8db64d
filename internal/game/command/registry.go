package command

import (
	"fmt"
	"strings"
)

// Registry maps command names to Command definitions.
// Lookups are case-insensitive.
type Registry struct {
	commands map[string]*Command // lowercased name → command
}

// NewRegistry creates a Registry populated with the given commands.
//
// Precondition: No two commands may share a name, ignoring case.
// Postcondition: Returns a Registry or an error on name collisions.
func NewRegistry(cmds []Command) (*Registry, error) {
	r := &Registry{commands: make(map[string]*Command, len(cmds))}
	for i := range cmds {
		cmd := &cmds[i]
		key := strings.ToLower(cmd.Name)
		if key == "" {
			return nil, fmt.Errorf("command %d has no name", i)
		}
		if existing, exists := r.commands[key]; exists {
			return nil, fmt.Errorf("duplicate command name: %q collides with %q", cmd.Name, existing.Name)
		}
		r.commands[key] = cmd
	}
	return r, nil
}

// DefaultRegistry creates a Registry with all built-in commands.
//
// Postcondition: Returns a Registry with all built-in commands registered.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(BuiltinCommands())
	if err != nil {
		panic(fmt.Sprintf("building default registry: %v", err))
	}
	return r
}

// Resolve looks up a command by name, ignoring case and surrounding space.
//
// Postcondition: Returns (command, true) if found, or (nil, false).
func (r *Registry) Resolve(name string) (*Command, bool) {
	cmd, ok := r.commands[strings.ToLower(strings.TrimSpace(name))]
	return cmd, ok
}

// Commands returns all registered commands in no particular order.
func (r *Registry) Commands() []*Command {
	result := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		result = append(result, cmd)
	}
	return result
}

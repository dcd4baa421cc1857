package protocol

import "strings"

// staticCommands is the built-in command table from spec section 4.3.
var staticCommands = map[string]Command{
	"check":          CommandCheck,
	"symbols":        CommandSymbols,
	"report":         CommandReport,
	"report_ifspam":  CommandReportIfSpam,
	"skip":           CommandSkip,
	"ping":           CommandPing,
	"process":        CommandProcess,
}

// CommandRegistry holds the process-wide, insertion-ordered table of custom commands registered alongside the
// static command set. It is populated once at process startup and is safe for concurrent read-only lookups
// thereafter; RegisterCommand itself is not safe to call concurrently with lookups.
type CommandRegistry struct {
	custom []CustomCommand
}

// NewCommandRegistry returns an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{}
}

// RegisterCommand appends a custom command. There is no way to deregister one; the registry's lifetime is the
// process lifetime. A later call with a name equal (case-insensitively) to an earlier one shadows it only in the
// sense that lookup returns the first match - the earlier registration still wins.
func (r *CommandRegistry) RegisterCommand(name string, handler CommandHandler) {
	r.custom = append(r.custom, CustomCommand{Name: name, Handler: handler})
}

// lookup resolves a command token against the static table first, then the dynamic registry, both
// case-insensitively. The dynamic registry is searched linearly and the first case-insensitive match wins.
func (r *CommandRegistry) lookup(token string) (Command, *CustomCommand, bool) {
	lower := strings.ToLower(token)
	if cmd, ok := staticCommands[lower]; ok {
		return cmd, nil, true
	}
	if r == nil {
		return CommandUnset, nil, false
	}
	for i := range r.custom {
		if strings.EqualFold(r.custom[i].Name, token) {
			return CommandCustom, &r.custom[i], true
		}
	}
	return CommandUnset, nil, false
}

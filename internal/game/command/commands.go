// Package command provides the command table, envelope parser, payload
// variants, and the dispatcher that routes inbound frames to handlers.
package command

// Command names as sent by clients. Matching is case-insensitive.
const (
	CommandLogin           = "Login"
	CommandGetBalance      = "GetBalance"
	CommandUpdateResources = "UpdateResources"
	CommandSendGift        = "SendGift"
)

// Handler identifiers mapping commands to their Handler implementations.
const (
	HandlerLogin           = "login"
	HandlerGetBalance      = "get_balance"
	HandlerUpdateResources = "update_resources"
	HandlerSendGift        = "send_gift"
)

// Command defines a client-invocable command.
type Command struct {
	// Name is the canonical command name.
	Name string
	// Help is a one-line description used by operator tooling.
	Help string
	// Handler names the Handler that serves this command.
	Handler string
}

// BuiltinCommands returns every command the server accepts.
func BuiltinCommands() []Command {
	return []Command{
		{Name: CommandLogin, Help: "Start a session for a device", Handler: HandlerLogin},
		{Name: CommandGetBalance, Help: "Report a player's balances", Handler: HandlerGetBalance},
		{Name: CommandUpdateResources, Help: "Credit a resource to a player", Handler: HandlerUpdateResources},
		{Name: CommandSendGift, Help: "Transfer a resource to another player", Handler: HandlerSendGift},
	}
}

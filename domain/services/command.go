package services

import (
	"strings"
	"unicode"
)

// CommandKind identifies a setup dialog command
type CommandKind string

const (
	CommandBotName         CommandKind = "bot_name"
	CommandServerID        CommandKind = "server_id"
	CommandConfirmServerID CommandKind = "confirm_server_id"
	CommandSetupStatus     CommandKind = "setup_status"
	CommandHelp            CommandKind = "help"
	CommandUnknown         CommandKind = "unknown"
)

// Command is a parsed setup dialog command
type Command struct {
	Kind CommandKind
	Name string // the raw command word, kept for logging unknown commands
	Arg  string // unquoted argument; empty for commands without one
}

// ParseCommand parses a chat message addressed to the setup dialog.
// ok is false when the message does not start with the prefix at all.
// Quotes around the argument are stripped: `/csm bot_name "My Bot"` yields Arg "My Bot".
func ParseCommand(content, prefix string) (cmd Command, ok bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return Command{}, false
	}

	rest := content[len(prefix):]
	// "/csmfoo" is not addressed to us
	if rest != "" && !unicode.IsSpace(rune(rest[0])) {
		return Command{}, false
	}

	rest = strings.TrimSpace(rest)
	name, arg := rest, ""
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		name, arg = rest[:i], rest[i:]
	}
	arg = strings.Trim(strings.TrimSpace(arg), `"`)

	cmd = Command{Name: name, Arg: arg}
	switch CommandKind(name) {
	case CommandBotName, CommandServerID, CommandConfirmServerID, CommandSetupStatus, CommandHelp:
		cmd.Kind = CommandKind(name)
	default:
		cmd.Kind = CommandUnknown
	}
	return cmd, true
}

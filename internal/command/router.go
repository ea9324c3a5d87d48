// ABOUTME: CommandRouter interprets control commands for sessions in Debug mode
// ABOUTME: Every branch answers with a Result; only errortest produces a Fault

package command

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/casuallyexisting/exo/internal/session"
)

// Fixed reply texts.
const (
	MsgSudoEnabled      = "Sudo is now Enabled"
	MsgSudoDisabled     = "Sudo is now Disabled"
	MsgPermissionDenied = "Permission Denied."
	MsgInvalidCreds     = "Invalid Credentials."
	MsgGlobalCleared    = "Global Chat Cleared."
	MsgNoHistory        = "No history found."
	MsgHistoryCleared   = "Current History Cleared."
	MsgInvalidCommand   = "Invalid Command: exit sudo to chat, or run 'help' to list commands."
	MsgDeliberateTest   = "Sudoer has tested the error function -- No need to worry."
)

const helpText = `Sudo commands:
- help : Lists commands
- sudo : Activates operator mode
- debug. <msg> : Debugs input
- beam. <msg> : Multi-response to input
- globalbeam : Toggles beam globally
- errortest : Throws error
- userid : Displays your userID
- chathistory : Displays your history
- clearchat : Clears your history`

const operatorHelpText = `Operator Commands:
- incognito : Globally disables chathistory
- core : Displays core and system info
- globalhistory : Displays global history
- userstatus : Displays user statuses
- g-clearchat : Clears all current chats`

// Access answers allow-list membership. *config.Config satisfies it.
type Access interface {
	IsOperator(id string) bool
	IsSudoer(id string) bool
}

// Descriptor is what the core command reports about the running system.
type Descriptor struct {
	Personality []string
	Player      string
	Engine      string
	Model       string
	Hardware    string
}

// Router dispatches commands against the session store.
type Router struct {
	store  *session.Store
	access Access
	desc   Descriptor
	logger *slog.Logger
}

// NewRouter creates a router.
func NewRouter(store *session.Store, access Access, desc Descriptor, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:  store,
		access: access,
		desc:   desc,
		logger: logger.With("component", "commands"),
	}
}

// ToggleSudo flips Debug for sudoers. Everyone else is refused without any
// state change.
func (r *Router) ToggleSudo(caller string, sess *session.Session) Result {
	if !r.access.IsSudoer(caller) {
		r.logger.Warn("sudo refused", "user_id", caller)
		return Reply(MsgPermissionDenied)
	}
	if sess.ToggleSudo() {
		r.logger.Info("sudo enabled", "user_id", caller)
		return Reply(MsgSudoEnabled)
	}
	r.logger.Info("sudo disabled", "user_id", caller)
	return Reply(MsgSudoDisabled)
}

// Dispatch interprets text for a session already in Debug.
func (r *Router) Dispatch(caller string, sess *session.Session, text string) Result {
	cmd := Parse(text)
	r.logger.Debug("dispatching command", "user_id", caller, "command", cmd.Kind.String())

	if cmd.Kind.OperatorOnly() && !r.access.IsOperator(caller) {
		r.logger.Warn("operator command refused", "user_id", caller, "command", cmd.Kind.String())
		return Reply(MsgInvalidCreds)
	}

	switch cmd.Kind {
	case Help:
		if r.access.IsOperator(caller) {
			return Reply(helpText + "\n\n" + operatorHelpText)
		}
		return Reply(helpText)

	case Incognito:
		if r.store.ToggleChatLogging() {
			return Reply("Chatlogging is now enabled")
		}
		return Reply("Chatlogging is now disabled")

	case Core:
		return Reply(r.describe())

	case GlobalHistory:
		return Reply(formatHistories(r.store.Snapshot()))

	case UserStatus:
		return Reply(formatStatuses(r.store.Snapshot()))

	case GlobalClearChat:
		n := r.store.ResetAll()
		r.logger.Info("global chat cleared", "user_id", caller, "sessions", n)
		return Reply(MsgGlobalCleared)

	case ChatHistory:
		if h := sess.History(); h != "" {
			return Reply(h)
		}
		return Reply(MsgNoHistory)

	case UserID:
		return Reply(caller)

	case Debug:
		return Rewrite(cmd.Arg, false)

	case Beam:
		sess.BeginOneShotBeam()
		return Rewrite(cmd.Arg, true)

	case GlobalBeam:
		return Reply("Status set to " + sess.ToggleGlobalBeam().String())

	case ClearChat:
		sess.ClearHistory()
		return Reply(MsgHistoryCleared)

	case ErrorTest:
		r.logger.Info("deliberate test error requested", "user_id", caller)
		return Fault(FaultDeliberateTest, MsgDeliberateTest)
	}

	return Reply(MsgInvalidCommand)
}

func (r *Router) describe() string {
	var b strings.Builder
	var personality []string
	for _, name := range r.desc.Personality {
		if name != r.desc.Player {
			personality = append(personality, name)
		}
	}
	fmt.Fprintf(&b, "Personality: %s\n", strings.Join(personality, ", "))
	fmt.Fprintf(&b, "Player: %s\n", r.desc.Player)
	fmt.Fprintf(&b, "Engine: %s\n", r.desc.Engine)
	fmt.Fprintf(&b, "Model: %s\n", r.desc.Model)
	fmt.Fprintf(&b, "Hardware: %s", r.desc.Hardware)
	return b.String()
}

func formatHistories(snap []session.Status) string {
	var b strings.Builder
	for i, st := range snap {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s]\n", st.UserID)
		if st.History == "" {
			b.WriteString("(empty)\n")
			continue
		}
		b.WriteString(st.History)
		if !strings.HasSuffix(st.History, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatStatuses(snap []session.Status) string {
	lines := make([]string, 0, len(snap))
	for _, st := range snap {
		lines = append(lines, fmt.Sprintf("%s: %s", st.UserID, st.Mode))
	}
	return strings.Join(lines, "\n")
}

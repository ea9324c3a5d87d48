// ABOUTME: Privileged command vocabulary and the result variants the router produces
// ABOUTME: Parse maps raw text to a Command; Result is Reply, Rewrite or Fault

package command

import "strings"

// Kind enumerates the commands understood while a session is in Debug.
type Kind int

const (
	Invalid Kind = iota
	Help
	Incognito
	Core
	GlobalHistory
	UserStatus
	GlobalClearChat
	ChatHistory
	UserID
	Debug
	Beam
	GlobalBeam
	ClearChat
	ErrorTest
)

var names = map[string]Kind{
	"help":          Help,
	"incognito":     Incognito,
	"core":          Core,
	"globalhistory": GlobalHistory,
	"userstatus":    UserStatus,
	"g-clearchat":   GlobalClearChat,
	"chathistory":   ChatHistory,
	"userid":        UserID,
	"globalbeam":    GlobalBeam,
	"clearchat":     ClearChat,
	"errortest":     ErrorTest,
}

func (k Kind) String() string {
	switch k {
	case Debug:
		return "debug."
	case Beam:
		return "beam."
	case Invalid:
		return "invalid"
	}
	for name, kind := range names {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// OperatorOnly reports whether the command requires the operators allow-list.
func (k Kind) OperatorOnly() bool {
	switch k {
	case Incognito, Core, GlobalHistory, UserStatus, GlobalClearChat:
		return true
	}
	return false
}

// prefixSeparator splits "debug. <text>" and "beam. <text>".
const prefixSeparator = ". "

// Command is a parsed control command. Arg carries the text after the
// separator for the Debug and Beam one-shot forms.
type Command struct {
	Kind Kind
	Arg  string
	Raw  string
}

// Parse classifies text. Matching is exact and case-sensitive.
func Parse(text string) Command {
	if kind, ok := names[text]; ok {
		return Command{Kind: kind, Raw: text}
	}

	head, arg, _ := strings.Cut(text, prefixSeparator)
	switch head {
	case "debug":
		return Command{Kind: Debug, Arg: arg, Raw: text}
	case "beam":
		return Command{Kind: Beam, Arg: arg, Raw: text}
	}
	return Command{Kind: Invalid, Raw: text}
}

// ResultKind tags a Result.
type ResultKind int

const (
	// ReplyResult is returned to the caller as-is; no generation happens.
	ReplyResult ResultKind = iota
	// RewriteResult continues the turn with Text as the conversational input.
	RewriteResult
	// FaultResult aborts the turn with an internal error.
	FaultResult
)

// FaultKind identifies why a Fault was raised.
type FaultKind int

const (
	// FaultDeliberateTest is raised by errortest to exercise error reporting.
	FaultDeliberateTest FaultKind = iota + 1
)

func (f FaultKind) String() string {
	switch f {
	case FaultDeliberateTest:
		return "deliberate_test"
	default:
		return "unknown"
	}
}

// Result is the outcome of dispatching one command.
type Result struct {
	Kind ResultKind
	Text string
	// Beam is set on a rewrite that should request several candidates.
	Beam   bool
	Fault  FaultKind
	Detail string
}

// Reply builds a plain text result.
func Reply(text string) Result {
	return Result{Kind: ReplyResult, Text: text}
}

// Rewrite builds a result that re-injects text as ordinary input.
func Rewrite(text string, beam bool) Result {
	return Result{Kind: RewriteResult, Text: text, Beam: beam}
}

// Fault builds an error result.
func Fault(kind FaultKind, detail string) Result {
	return Result{Kind: FaultResult, Fault: kind, Detail: detail}
}

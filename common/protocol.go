package common

import (
	"fmt"
	"strings"
)

// Command words understood by the file server.
const (
	CmdLogin  = "LOGIN"
	CmdList   = "LIST"
	CmdPush   = "PUSH"
	CmdGet    = "GET"
	CmdDelete = "DELETE"
)

// Handshake tokens exchanged around raw transfers.
const (
	TokenReady    = "READY"
	TokenOK       = "OK"
	TokenContinue = "CONTINUE"
	TokenDone     = "DONE"
	TokenServerOK = "SERVER OK"
)

// Syntax describes the expected shape of one command.
type Syntax struct {
	Args      int // including the command word
	Signature string
}

// Commands is the command table shared by the server and clients.
var Commands = map[string]Syntax{
	CmdLogin:  {Args: 2, Signature: "LOGIN <username>"},
	CmdPush:   {Args: 2, Signature: "PUSH <filename>"},
	CmdList:   {Args: 1, Signature: "LIST"},
	CmdGet:    {Args: 2, Signature: "GET <filename>"},
	CmdDelete: {Args: 2, Signature: "DELETE <filename>"},
}

// Message is one parsed command line. Arg holds everything after the
// command word, so filenames may contain spaces.
type Message struct {
	Cmd string
	Arg string
}

// ParseCommand splits a trimmed control line into command word and
// argument at the first space. The command word is upper-cased. Only a
// space separates the two, so "GET\tname" is the single word "GET\tname".
func ParseCommand(line string) Message {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")
	return Message{Cmd: strings.ToUpper(cmd), Arg: strings.TrimSpace(arg)}
}

// CheckArity reports the usage error for msg, or "" when msg carries the
// number of arguments its command expects. Unknown commands pass.
func CheckArity(msg Message) string {
	syntax, ok := Commands[msg.Cmd]
	if !ok {
		return ""
	}
	has := 1
	if msg.Arg != "" {
		has = 2
	}
	if has != syntax.Args {
		return fmt.Sprintf("Error: %s expects %d argument(s): %s", msg.Cmd, syntax.Args-1, syntax.Signature)
	}
	return ""
}

// IsAck reports whether line is one of the download acknowledgement tokens.
func IsAck(line string) bool {
	switch line {
	case TokenOK, TokenContinue, TokenDone:
		return true
	}
	return false
}

// Server reply texts. Each is sent as one line.
func Welcome() string {
	return "Welcome to TreeDrive - Please login with: " + Commands[CmdLogin].Signature
}

func LoggedIn(user string) string {
	return fmt.Sprintf("Logged in as %s. Available commands: PUSH <file>, GET <file>, LIST, DELETE <file>", user)
}

func LoginRequired() string {
	return "Error: You must login first with: " + Commands[CmdLogin].Signature
}

const (
	ReplyAlreadyLoggedIn   = "You are already logged in."
	ReplyUnknownCommand    = "Error: Command does not exist."
	ReplyNoFiles           = "There are no files on the server."
	ReplyDeleteDenied      = "Permission denied. You are not the owner of this file."
	ReplyOverwriteDenied   = "Permission denied. You cannot overwrite a file you do not own."
	ReplyInvalidSize       = "Error: Invalid filesize."
	ReplyExpectedOK        = "Error: Expected OK"
	ReplyLineTooLong       = "Error: Line too long."
	ReplyListFailed        = "Error: Could not list files."
	permissionDeniedPrefix = "Permission denied."
	errorPrefix            = "Error:"
	tooLargePrefix         = "Error: File too large"
)

func NotFound(name string) string {
	return fmt.Sprintf("Error: File '%s' not found.", name)
}

func InvalidName(name string) string {
	return fmt.Sprintf("Error: Invalid filename '%s'.", name)
}

func Deleted(name string) string {
	return fmt.Sprintf("File '%s' deleted.", name)
}

func Uploaded(name string) string {
	return fmt.Sprintf("File '%s' uploaded successfully.", name)
}

func StoreFailed(name string) string {
	return fmt.Sprintf("Error: Could not store file '%s'.", name)
}

func DeleteFailed(name string) string {
	return fmt.Sprintf("Error: Could not delete file '%s'.", name)
}

func ReadFailed(name string) string {
	return fmt.Sprintf("Error: Could not read file '%s'.", name)
}

func TooLarge(max int64) string {
	return fmt.Sprintf("%s (max %d bytes).", tooLargePrefix, max)
}

func ReadyGet(name string, size int64) string {
	return fmt.Sprintf("%s %s %d", TokenReady, name, size)
}

func ListHeader(n int) string {
	return fmt.Sprintf("%d file(s) on the server:", n)
}

func ListEntry(name string, size int64, owner, timestamp string) string {
	return fmt.Sprintf("%s - %d bytes - Uploaded by %s on %s", name, size, owner, timestamp)
}

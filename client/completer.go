package main

import (
	"os"
	"slices"
	"strings"

	"github.com/c-bata/go-prompt"

	"treedrive/common"
)

var commandSuggestions = func() []prompt.Suggest {
	suggestions := make([]prompt.Suggest, 0, len(common.Commands)+2)
	for name := range common.Commands {
		suggestions = append(suggestions, prompt.Suggest{Text: name, Description: commandHelp[name]})
	}
	suggestions = append(suggestions,
		prompt.Suggest{Text: cmdHelp, Description: commandHelp[cmdHelp]},
		prompt.Suggest{Text: cmdExit, Description: commandHelp[cmdExit]},
	)
	slices.SortFunc(suggestions, func(a, b prompt.Suggest) int { return strings.Compare(a.Text, b.Text) })
	return suggestions
}()

// Complete suggests command words, then remote names for GET and DELETE
// (from the last LIST) and local files for PUSH.
func (s *ClientState) Complete(d prompt.Document) []prompt.Suggest {
	text := d.TextBeforeCursor()
	words := strings.Fields(text)
	word := d.GetWordBeforeCursor()

	if len(words) == 0 || (len(words) == 1 && !strings.HasSuffix(text, " ")) {
		return prompt.FilterHasPrefix(commandSuggestions, word, true)
	}

	switch strings.ToUpper(words[0]) {
	case common.CmdGet, common.CmdDelete:
		return prompt.FilterHasPrefix(suggest(s.remoteFiles, "remote file"), word, false)
	case common.CmdPush:
		return prompt.FilterHasPrefix(suggest(localFiles(), "local file"), word, false)
	}
	return nil
}

func suggest(names []string, description string) []prompt.Suggest {
	out := make([]prompt.Suggest, 0, len(names))
	for _, name := range names {
		out = append(out, prompt.Suggest{Text: name, Description: description})
	}
	return out
}

func localFiles() []string {
	entries, err := os.ReadDir(".")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names
}

func (s *ClientState) livePrefix() (string, bool) {
	if s.UserID == "" {
		return "treedrive> ", true
	}
	return s.UserID + "@treedrive> ", true
}

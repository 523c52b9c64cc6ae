package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"

	"treedrive/common"
)

var (
	okColor   = color.New(color.FgGreen)
	errColor  = color.New(color.FgRed)
	infoColor = color.New(color.FgCyan)
)

func (s *ClientState) success(msg string) {
	okColor.Fprintln(s.out, "✓ "+msg)
}

func (s *ClientState) info(msg string) {
	infoColor.Fprintln(s.out, msg)
}

// printError shows err. Server replies are printed as sent; local
// failures get the protocol's error prefix.
func (s *ClientState) printError(err error) {
	var reply *common.ReplyError
	if errors.As(err, &reply) {
		errColor.Fprintln(s.out, "✗ "+reply.Reply)
		return
	}
	errColor.Fprintln(s.out, "✗ Error: "+err.Error())
}

func renderEntries(w io.Writer, entries []common.Entry) error {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "Size", "Owner", "Uploaded")
	for _, e := range entries {
		if err := table.Append([]string{e.Name, humanize.Bytes(uint64(e.Size)), e.Owner, e.Uploaded}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d file(s) on the server\n", len(entries))
	return nil
}

func (s *ClientState) printHelp() error {
	names := make([]string, 0, len(common.Commands))
	for name := range common.Commands {
		names = append(names, name)
	}
	slices.Sort(names)

	table := tablewriter.NewWriter(s.out)
	table.Header("Command", "Description")
	for _, name := range names {
		if err := table.Append([]string{common.Commands[name].Signature, commandHelp[name]}); err != nil {
			return err
		}
	}
	table.Append([]string{cmdHelp, commandHelp[cmdHelp]})
	table.Append([]string{cmdExit, commandHelp[cmdExit]})
	return table.Render()
}

var commandHelp = map[string]string{
	common.CmdLogin:  "Identify yourself to the server",
	common.CmdList:   "List files on the server",
	common.CmdPush:   "Upload a local file",
	common.CmdGet:    "Download a file into the current directory",
	common.CmdDelete: "Delete a file you own",
	cmdHelp:          "Show this help",
	cmdExit:          "Leave the client",
}

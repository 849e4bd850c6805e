// Package commands parses and runs the lines typed into the terminal client.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUsage   = errors.New("usage")
	ErrUnknown = errors.New("unknown command")
)

type Kind int

const (
	KindSend Kind = iota
	KindDelete
	KindForget
	KindClear
	KindWipe
	KindUpload
	KindHelp
	KindQuit
)

type Command struct {
	Kind Kind
	Arg  string
}

// Help lists the commands understood by Parse.
const Help = `/delete <id>   delete your message for everyone
/forget <id>   hide a message on this device
/clear         clear the room for everyone
/wipe          forget the whole room on this device
/upload <path> share a file
/help          show this help
/quit          leave`

// Parse turns one input line into a command. Lines not starting with a
// slash are chat text; "//" escapes a leading slash.
func Parse(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "//") {
		return Command{Kind: KindSend, Arg: trimmed[1:]}, nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: KindSend, Arg: line}, nil
	}

	name, arg, _ := strings.Cut(trimmed[1:], " ")
	arg = strings.TrimSpace(arg)

	var cmd Command
	switch name {
	case "delete":
		cmd = Command{Kind: KindDelete, Arg: arg}
	case "forget":
		cmd = Command{Kind: KindForget, Arg: arg}
	case "upload":
		cmd = Command{Kind: KindUpload, Arg: arg}
	case "clear":
		return Command{Kind: KindClear}, nil
	case "wipe":
		return Command{Kind: KindWipe}, nil
	case "help":
		return Command{Kind: KindHelp}, nil
	case "quit", "exit":
		return Command{Kind: KindQuit}, nil
	default:
		return Command{}, fmt.Errorf("%w /%s", ErrUnknown, name)
	}

	if cmd.Arg == "" {
		return Command{}, fmt.Errorf("%w: /%s <argument>", ErrUsage, name)
	}
	return cmd, nil
}

// Chat is the part of the chat log commands act on.
type Chat interface {
	SetDraft(text string)
	SendDraft() error
	DeleteForMe(id string)
	DeleteForEveryone(id string) error
	ClearForEveryone() error
	ClearLocal()
}

type Env struct {
	Chat   Chat
	Upload func(ctx context.Context, fileName string, r io.Reader) (string, error)

	// Open defaults to os.Open.
	Open func(path string) (io.ReadCloser, error)
	Out  io.Writer
}

// Execute runs cmd. It reports true when the client should quit.
func Execute(ctx context.Context, env Env, cmd Command) (bool, error) {
	switch cmd.Kind {
	case KindSend:
		env.Chat.SetDraft(cmd.Arg)
		return false, env.Chat.SendDraft()
	case KindDelete:
		return false, env.Chat.DeleteForEveryone(cmd.Arg)
	case KindForget:
		env.Chat.DeleteForMe(cmd.Arg)
	case KindClear:
		return false, env.Chat.ClearForEveryone()
	case KindWipe:
		env.Chat.ClearLocal()
	case KindUpload:
		return false, upload(ctx, env, cmd.Arg)
	case KindHelp:
		if env.Out != nil {
			_, _ = fmt.Fprintln(env.Out, Help)
		}
	case KindQuit:
		return true, nil
	}
	return false, nil
}

func upload(ctx context.Context, env Env, path string) error {
	if env.Upload == nil {
		return errors.New("uploads are not available")
	}
	open := env.Open
	if open == nil {
		open = func(path string) (io.ReadCloser, error) { return os.Open(path) }
	}

	f, err := open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	name, err := env.Upload(ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}
	if env.Out != nil {
		_, _ = fmt.Fprintf(env.Out, "uploaded %s\n", name)
	}
	return nil
}

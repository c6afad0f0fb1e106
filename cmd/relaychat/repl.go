package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rickgao/relaychat/internal/connection"
	"github.com/rickgao/relaychat/internal/model"
)

var errNoRecipient = errors.New("no recipient yet, start with @user")

const helpText = `commands:
  @user text     send text to user (later plain lines go to the same user)
  /typing user   tell user you are typing
  /block user    block user
  /unblock user  unblock user
  /blocked       list blocked users
  /users         list online users
  /diag          show endpoint diagnostics
  /status        show connection details
  /quit          leave
`

// chatClient is the part of the connection manager the REPL drives.
type chatClient interface {
	SendMessage(connection.OutgoingMessage) (model.Message, error)
	SendTyping(connection.TypingUpdate) error
	BlockUser(string) error
	RemoveBlockedUser(string) bool
	BlockedUsers() []string
	Users() []model.User
	Diagnostics() []connection.Diagnostics
	ConnectionDetails() connection.ConnectionDetails
}

// command is one parsed input line.
type command struct {
	Name   string // send, typing, block, unblock, blocked, users, diag, status, help, quit
	Target string
	Text   string
}

// parseLine parses one input line. Plain text becomes a send with no target.
func parseLine(line string) (command, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return command{}, nil

	case strings.HasPrefix(line, "@"):
		target, text, _ := strings.Cut(line[1:], " ")
		text = strings.TrimSpace(text)
		if target == "" || text == "" {
			return command{}, errors.New("usage: @user text")
		}
		return command{Name: "send", Target: target, Text: text}, nil

	case strings.HasPrefix(line, "/"):
		name, arg, _ := strings.Cut(line[1:], " ")
		arg = strings.TrimSpace(arg)
		switch name {
		case "typing", "block", "unblock":
			if arg == "" {
				return command{}, fmt.Errorf("usage: /%s user", name)
			}
			return command{Name: name, Target: arg}, nil
		case "blocked", "users", "diag", "status", "help", "quit":
			return command{Name: name}, nil
		}
		return command{}, fmt.Errorf("unknown command /%s, try /help", name)
	}

	return command{Name: "send", Text: line}, nil
}

// repl executes parsed commands against a chatClient.
type repl struct {
	client chatClient
	con    *console
	last   string // recipient of the previous @user line
}

// runREPL reads commands from in until EOF or /quit.
func runREPL(in io.Reader, con *console, client chatClient) error {
	r := &repl{client: client, con: con}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd, err := parseLine(scanner.Text())
		if err != nil {
			con.Printf("! %v\n", err)
			continue
		}
		if cmd.Name == "quit" {
			return nil
		}
		if err := r.exec(cmd); err != nil {
			con.Printf("! %v\n", err)
		}
	}
	return scanner.Err()
}

func (r *repl) exec(cmd command) error {
	switch cmd.Name {
	case "":
		return nil

	case "send":
		to := cmd.Target
		if to == "" {
			to = r.last
		}
		if to == "" {
			return errNoRecipient
		}
		r.last = to
		_, err := r.client.SendMessage(connection.OutgoingMessage{To: to, Content: cmd.Text})
		return err

	case "typing":
		return r.client.SendTyping(connection.TypingUpdate{To: cmd.Target, IsTyping: true})

	case "block":
		if err := r.client.BlockUser(cmd.Target); err != nil {
			return err
		}
		r.con.Printf("* blocked %s\n", cmd.Target)

	case "unblock":
		if !r.client.RemoveBlockedUser(cmd.Target) {
			return fmt.Errorf("%s was not blocked", cmd.Target)
		}
		r.con.Printf("* unblocked %s\n", cmd.Target)

	case "blocked":
		r.con.Printf("* blocked: %s\n", strings.Join(r.client.BlockedUsers(), ", "))

	case "users":
		for _, u := range r.client.Users() {
			status := "offline"
			if u.IsOnline {
				status = "online"
			}
			r.con.Printf("  %-20s %-10s %s\n", u.Username, status, u.ID)
		}

	case "diag":
		for _, d := range r.client.Diagnostics() {
			line := fmt.Sprintf("  %-40s %-9s", d.URL, d.Stage)
			if d.CanConnect {
				line += fmt.Sprintf(" %s %v", d.Protocol, d.Latency.Round(time.Millisecond))
			} else if d.Error != "" {
				line += " " + d.Error
			}
			r.con.Printf("%s\n", line)
		}

	case "status":
		d := r.client.ConnectionDetails()
		r.con.Printf("* %s endpoint=%q index=%d attempts=%d receiving=%v\n",
			d.StateName, d.Endpoint, d.Index, d.Attempts, d.Receiving)
		if d.LastError != "" {
			r.con.Printf("  last error: %s\n", d.LastError)
		}

	case "help":
		r.con.Printf("%s", helpText)

	default:
		return fmt.Errorf("unhandled command %q", cmd.Name)
	}
	return nil
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/NicolasHaas/screenshare/pkg/client"
	"github.com/NicolasHaas/screenshare/pkg/model"
)

const shellHelp = `commands:
  join <name> <endpoint> [uuid]   connect a user
  leave <name>                    disconnect a user
  walk <name> <endpoint>          move a user without asking the host
  silent <name> on|off            stop or resume answering location queries
  list                            show connected users
  quit`

// shell reads one command per line and applies it to the proxy.
type shell struct {
	proxy *client.Proxy
	out   io.Writer
}

func (s *shell) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			quit, err := s.exec(ctx, strings.Fields(line))
			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (s *shell) lookup(name string) (model.UserID, error) {
	for _, p := range s.proxy.Users() {
		if strings.EqualFold(p.User.Username, name) {
			return p.User.ID, nil
		}
	}
	return model.NilUser, fmt.Errorf("%w: %s", client.ErrNotJoined, name)
}

func (s *shell) exec(ctx context.Context, args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	want := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: expected %d argument(s); type help", args[0], n-1)
		}
		return nil
	}

	switch args[0] {
	case "help", "?":
		fmt.Fprintln(s.out, shellHelp)
	case "quit", "exit":
		return true, nil
	case "list":
		for _, p := range s.proxy.Users() {
			flag := ""
			if p.Silent {
				flag = " (silent)"
			}
			fmt.Fprintf(s.out, "%-16s %-20s %s%s\n", p.User.Username, p.Endpoint, p.User.ID, flag)
		}
	case "join":
		if err := want(3); err != nil {
			return false, err
		}
		if err := model.ValidateUsername(args[1]); err != nil {
			return false, err
		}
		u := model.User{ID: client.OfflineID(args[1]), Username: args[1]}
		if len(args) > 3 {
			id, err := uuid.Parse(args[3])
			if err != nil {
				return false, err
			}
			u.ID = id
		}
		return false, s.proxy.Join(ctx, u, args[2])
	case "leave":
		if err := want(2); err != nil {
			return false, err
		}
		id, err := s.lookup(args[1])
		if err != nil {
			return false, err
		}
		return false, s.proxy.Leave(id)
	case "walk":
		if err := want(3); err != nil {
			return false, err
		}
		id, err := s.lookup(args[1])
		if err != nil {
			return false, err
		}
		return false, s.proxy.Walk(id, args[2])
	case "silent":
		if err := want(3); err != nil {
			return false, err
		}
		id, err := s.lookup(args[1])
		if err != nil {
			return false, err
		}
		return false, s.proxy.SetSilent(id, args[2] == "on")
	default:
		return false, fmt.Errorf("unknown command %q; type help", args[0])
	}
	return false, nil
}

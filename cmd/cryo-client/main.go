// Command cryo-client is an interactive REPL that speaks Cryo's DSL
// over a TCP connection to a cryo-server process.
package main

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/DavisRayM/cryo/dsl"
	"github.com/DavisRayM/cryo/protocol"
	"github.com/DavisRayM/cryo/row"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "cryo-client",
		Short: "Interactive client for a Cryo storage server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7878", "address of the cryo-server to connect to")
	return cmd
}

func runREPL(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("cryo-client: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := protocol.WriteRequest(conn, protocol.Request{Kind: protocol.ReqPing}); err != nil {
		return fmt.Errorf("cryo-client: handshake: %w", err)
	}
	resp, err := protocol.ReadResponse(conn)
	if err != nil {
		return fmt.Errorf("cryo-client: handshake response: %w", err)
	}
	if resp.Kind != protocol.RespPong {
		return fmt.Errorf("cryo-client: server did not respond to handshake")
	}

	rl, err := readline.New("cryo> ")
	if err != nil {
		return fmt.Errorf("cryo-client: start readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				return nil
			}
			return fmt.Errorf("cryo-client: read line: %w", err)
		}

		cmd, err := dsl.Parse(line)
		if err != nil {
			if err == dsl.ErrEmpty {
				continue
			}
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if cmd.Kind == dsl.CmdExit {
			_ = sendClose(conn)
			return nil
		}
		if err := handle(conn, cmd); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func sendClose(conn net.Conn) error {
	if err := protocol.WriteRequest(conn, protocol.Request{Kind: protocol.ReqCloseConnection}); err != nil {
		return err
	}
	_, err := protocol.ReadResponse(conn)
	return err
}

func handle(conn net.Conn, cmd dsl.Command) error {
	req, err := toRequest(cmd)
	if err != nil {
		return err
	}
	if err := protocol.WriteRequest(conn, req); err != nil {
		return fmt.Errorf("cryo-client: send request: %w", err)
	}
	resp, err := protocol.ReadResponse(conn)
	if err != nil {
		return fmt.Errorf("cryo-client: read response: %w", err)
	}
	return render(cmd, resp)
}

func toRequest(cmd dsl.Command) (protocol.Request, error) {
	switch cmd.Kind {
	case dsl.CmdPing:
		return protocol.Request{Kind: protocol.ReqPing}, nil
	case dsl.CmdPopulate:
		return protocol.Request{Kind: protocol.ReqPopulate, Count: cmd.Count}, nil
	case dsl.CmdStructure:
		return protocol.Request{Kind: protocol.ReqPrintStructure}, nil
	case dsl.CmdSelect:
		return protocol.Request{Kind: protocol.ReqQuery, QueryKind: protocol.QuerySelect}, nil
	case dsl.CmdInsert, dsl.CmdUpdate:
		qk := protocol.QueryInsert
		if cmd.Kind == dsl.CmdUpdate {
			qk = protocol.QueryUpdate
		}
		r := row.NewLeaf(cmd.ID, dsl.PackValue(cmd.Username, cmd.Email))
		return protocol.Request{Kind: protocol.ReqQuery, QueryKind: qk, Row: r.Encode(nil)}, nil
	case dsl.CmdDelete:
		r := row.NewLeaf(cmd.ID, nil)
		return protocol.Request{Kind: protocol.ReqQuery, QueryKind: protocol.QueryDelete, Row: r.Encode(nil)}, nil
	default:
		return protocol.Request{}, fmt.Errorf("cryo-client: unsupported command kind %d", cmd.Kind)
	}
}

func render(cmd dsl.Command, resp protocol.Response) error {
	switch resp.Kind {
	case protocol.RespErr:
		return fmt.Errorf("server error (%d): %s", resp.ErrorCode, resp.Description)
	case protocol.RespPong:
		fmt.Println("pong")
	case protocol.RespStateChanged:
		fmt.Println("ok")
	case protocol.RespStructure:
		if cmd.Path != "" {
			return os.WriteFile(cmd.Path, []byte(resp.Structure), 0o644)
		}
		fmt.Println(resp.Structure)
	case protocol.RespQuery:
		rows, err := protocol.DecodeRows(resp.Rows)
		if err != nil {
			return err
		}
		for _, r := range rows {
			value, err := r.Value()
			if err != nil {
				return err
			}
			username, email, err := dsl.UnpackValue(value)
			if err != nil {
				return err
			}
			fmt.Printf("%d | %s | %s\n", r.ID(), username, email)
		}
	}
	return nil
}

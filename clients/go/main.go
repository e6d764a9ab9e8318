// boardsync CLI - command line client for boardsync
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eldtechnologies/boardsync/clients/go/boardsync"
	"github.com/eldtechnologies/boardsync/internal/protocol"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("BOARDSYNC_URL")
	client := boardsync.NewClient(baseURL)
	cmd := os.Args[1]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "stats":
		resp, err := client.Stats(ctx)
		exitOnError(err)
		printJSON(resp)

	case "create":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: boardsync create <name>")
			os.Exit(1)
		}
		resp, err := client.CreateBoard(ctx, os.Args[2])
		exitOnError(err)
		fmt.Printf("Created board: %s\n", resp.ID)

	case "list":
		query := ""
		if len(os.Args) > 2 {
			query = os.Args[2]
		}
		resp, err := client.ListBoards(ctx, query, 20, 0)
		exitOnError(err)
		for _, b := range resp.Boards {
			fmt.Printf("  %s  %s (updated %s)\n", b.ID, b.Name, b.UpdatedAt)
		}
		fmt.Printf("%d of %d boards\n", len(resp.Boards), resp.Total)

	case "show":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: boardsync show <board_id>")
			os.Exit(1)
		}
		resp, err := client.GetBoard(ctx, os.Args[2])
		exitOnError(err)
		printJSON(resp)

	case "delete":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: boardsync delete <board_id>")
			os.Exit(1)
		}
		exitOnError(client.DeleteBoard(ctx, os.Args[2]))
		fmt.Println("Deleted")

	case "who":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: boardsync who <session_id>")
			os.Exit(1)
		}
		resp, err := client.GetSession(ctx, os.Args[2])
		exitOnError(err)
		for _, p := range resp.Participants {
			fmt.Printf("  %s  %s\n", p.ConnectionID, p.Name)
		}
		fmt.Printf("%d connected\n", resp.ParticipantsCount)

	case "watch":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: boardsync watch <session_id> <name>")
			os.Exit(1)
		}
		watch(client, os.Args[2], os.Args[3])

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// watch joins a session and prints every event until interrupted.
func watch(client *boardsync.Client, sessionID, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	sess, err := client.Join(ctx, sessionID, name)
	cancel()
	exitOnError(err)
	defer sess.Close()

	fmt.Printf("Joined %s as %s (%d bytes of state)\n",
		sessionID, sess.Joined.ConnectionID, len(sess.Joined.Snapshot))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case env, ok := <-sess.Events():
			if !ok {
				exitOnError(sess.Err())
				return
			}
			printEvent(env)
		case <-quit:
			_ = sess.Leave()
			return
		}
	}
}

func printEvent(env protocol.Envelope) {
	ts := time.Now().Format("15:04:05")
	switch env.Type {
	case protocol.TypeUserJoined, protocol.TypeUserLeft:
		var p protocol.Presence
		json.Unmarshal(env.Data, &p)
		fmt.Printf("[%s] %s\n", ts, p.Message)
	case protocol.TypeCanvasStateFromServer:
		var st protocol.CanvasStateFromServer
		json.Unmarshal(env.Data, &st)
		fmt.Printf("[%s] board updated (%d bytes)\n", ts, len(st.Snapshot))
	case protocol.TypeParticipantsCount:
		fmt.Printf("[%s] %s connected\n", ts, env.Data)
	default:
		fmt.Printf("[%s] %s %s\n", ts, env.Type, env.Data)
	}
}

func usage() {
	fmt.Println(`boardsync CLI - collaborative whiteboard sessions

Usage: boardsync <command> [options]

Commands:
  create <name>           Create a board
  list [query]            List boards, most recent first
  show <board_id>         Show a board and its snapshot
  delete <board_id>       Delete a board
  who <session_id>        List live participants
  watch <session_id> <n>  Join a session and print events
  stats                   Show activity counters
  health                  Check server health

Environment:
  BOARDSYNC_URL   Server URL (default: http://localhost:8000)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

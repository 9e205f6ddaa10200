// Defrilex CLI - command line client for the Defrilex messaging API
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/defrilex/messaging/clients/go/defrilex"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := defrilex.NewClient(os.Getenv("DEFRILEX_URL"), os.Getenv("DEFRILEX_TOKEN"))
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: defrilex send <recipient_id> <message>")
			os.Exit(1)
		}
		msg, err := client.Send(defrilex.SendRequest{RecipientID: os.Args[2], Content: os.Args[3]})
		exitOnError(err)
		fmt.Printf("Sent %s in conversation %s\n", msg.ID, msg.ConversationID)

	case "reply":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: defrilex reply <conversation_id> <recipient_id> <message>")
			os.Exit(1)
		}
		msg, err := client.Send(defrilex.SendRequest{ConversationID: os.Args[2], RecipientID: os.Args[3], Content: os.Args[4]})
		exitOnError(err)
		fmt.Printf("Sent %s\n", msg.ID)

	case "messages":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: defrilex messages <conversation_id> [page]")
			os.Exit(1)
		}
		resp, err := client.Messages(os.Args[2], pageArg(3), 0)
		exitOnError(err)
		for _, msg := range resp.Messages {
			from := msg.SenderID
			if msg.Sender != nil {
				from = msg.Sender.FirstName
			}
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format("2006-01-02 15:04:05"), from, msg.Content)
			for _, a := range msg.Attachments {
				fmt.Printf("    attachment: %s (%d bytes) %s\n", a.Name, a.Size, a.URL)
			}
		}
		p := resp.Pagination
		fmt.Printf("page %d/%d, %d messages\n", p.Page, p.TotalPages, p.TotalCount)

	case "conversations":
		resp, err := client.Conversations(pageArg(2), 0)
		exitOnError(err)
		for _, conv := range resp.Conversations {
			with := "(unknown)"
			if conv.Participant != nil {
				with = conv.Participant.FirstName + " " + conv.Participant.LastName
			}
			last := ""
			if conv.LastMessage != nil {
				last = *conv.LastMessage
			}
			fmt.Printf("  %s  %-24s %3d unread  %s\n", conv.ID, with, conv.UnreadCount, last)
		}

	case "unread":
		n, err := client.Unread()
		exitOnError(err)
		fmt.Println(n)

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: defrilex read <message_id>")
			os.Exit(1)
		}
		msg, err := client.MarkRead(os.Args[2])
		exitOnError(err)
		printJSON(msg)

	case "who":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: defrilex who <user_id>")
			os.Exit(1)
		}
		user, err := client.GetUser(os.Args[2])
		exitOnError(err)
		printJSON(user)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`Defrilex CLI - marketplace messaging

Usage: defrilex <command> [options]

Commands:
  send <recipient> <message>      Message a user, starting a conversation if needed
  reply <conversation> <recipient> <message>
                                  Post into an existing conversation
  messages <conversation> [page]  Read a conversation (marks incoming messages read)
  conversations [page]            List conversations
  unread                          Total unread messages
  read <message_id>               Mark one message read
  who <user_id>                   Get a user's public profile
  health                          Check server health

Environment:
  DEFRILEX_URL     Server URL (default: http://localhost:8080)
  DEFRILEX_TOKEN   Bearer token (see cmd/token)`)
}

func pageArg(i int) int {
	if len(os.Args) <= i {
		return 0
	}
	n, err := strconv.Atoi(os.Args[i])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid page: %s\n", os.Args[i])
		os.Exit(1)
	}
	return n
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

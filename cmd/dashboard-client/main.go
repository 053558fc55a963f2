package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/omochice/chat-bridge/internal/client"
	"github.com/omochice/chat-bridge/pkg/dashboard"
)

func main() {
	serverAddr := flag.String("server", "ws://localhost:3000/ws", "Dashboard WebSocket address (e.g., ws://localhost:3000/ws)")
	user := flag.String("user", "admin", "Basic auth username")
	pass := flag.String("pass", "password123", "Basic auth password")
	flag.Parse()

	c := client.New(*serverAddr, *user, *pass, zap.NewNop())

	if err := c.Connect(); err != nil {
		log.Fatalf("Failed to connect to server: %v", err)
	}
	defer c.Disconnect()

	log.Printf("Connected to %s", *serverAddr)

	go func() {
		for ev := range c.Events() {
			printEvent(ev)
		}
	}()

	fmt.Println("Commands: list | select <chatId> | send <chatId> <text> | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		if err := runCommand(c, line); err != nil {
			log.Printf("Command failed: %v", err)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Error reading input: %v", err)
	}

	log.Println("Disconnected from server")
}

func runCommand(c *client.Client, line string) error {
	parts := strings.SplitN(line, " ", 3)
	switch parts[0] {
	case "list":
		return c.RequestChatList()
	case "select":
		if len(parts) < 2 {
			return fmt.Errorf("usage: select <chatId>")
		}
		return c.SelectChat(parts[1])
	case "send":
		if len(parts) < 3 {
			return fmt.Errorf("usage: send <chatId> <text>")
		}
		return c.SendMessage(parts[1], parts[2])
	default:
		return fmt.Errorf("unknown command %q", parts[0])
	}
}

func printEvent(ev *dashboard.Event) {
	switch ev.Type {
	case dashboard.EventReady:
		fmt.Println("*** session ready ***")

	case dashboard.EventQR:
		fmt.Println("*** pairing required, open the web UI to scan ***")

	case dashboard.EventChatList:
		var sums []dashboard.ChatSummary
		if err := json.Unmarshal(ev.Data, &sums); err != nil {
			log.Printf("Bad chat_list payload: %v", err)
			return
		}
		for _, s := range sums {
			fmt.Printf("[%d] %s (%s): %s\n", s.Unread, s.Name, s.ID, s.LastMessage)
		}

	case dashboard.EventChatMessages:
		var payload dashboard.ChatMessages
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			log.Printf("Bad chat_messages payload: %v", err)
			return
		}
		fmt.Printf("--- %s ---\n", payload.Name)
		for _, m := range payload.Messages {
			printMessage(m)
		}

	case dashboard.EventNewMessage:
		var payload dashboard.NewMessage
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			log.Printf("Bad new_message payload: %v", err)
			return
		}
		fmt.Printf("(%s) ", payload.ChatID)
		printMessage(payload.Message)

	case dashboard.EventError:
		var payload dashboard.ErrorPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			log.Printf("Bad error payload: %v", err)
			return
		}
		fmt.Printf("!!! %s\n", payload.Message)
	}
}

func printMessage(m dashboard.Message) {
	who := m.Sender
	if m.FromSelf {
		who = "me"
	}
	fmt.Printf("%s [%s]: %s\n", m.Time, who, m.Text)
}

// chatctl is a line-oriented terminal client for the chat API, mostly
// useful for poking at a running backend without the web frontend.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"spurr-backend/internal/client"
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:8080", "backend base URL")
		sessionFile = flag.String("session-file", defaultSessionFile(), "path of the persisted session id")
	)
	flag.Parse()

	sessionID, err := client.LoadOrCreateSession(*sessionFile)
	if err != nil {
		log.Fatalf("failed to load session: %v", err)
	}

	c := client.New(*baseURL, sessionID)

	fmt.Println("Spurr support chat. Type a message, or /new, /list, /use <id>, /quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit":
			return
		case "/new":
			c.Reset()
			fmt.Println("started a new conversation")
			continue
		case "/list":
			listConversations(c)
			continue
		}

		if id, ok := strings.CutPrefix(line, "/use "); ok {
			useConversation(c, strings.TrimSpace(id))
			continue
		}

		turn, err := c.Send(context.Background(), line, func(fragment string) {
			fmt.Print(fragment)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
			continue
		}
		if turn.Failed {
			fmt.Printf("\n[agent error] %s\n", turn.Text)
			continue
		}
		fmt.Println()
	}
}

// useConversation resumes a prior conversation, replaying its log first.
func useConversation(c *client.Client, id string) {
	messages, err := c.History(context.Background(), id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if len(messages) == 0 {
		fmt.Println("no such conversation")
		return
	}

	for _, m := range messages {
		fmt.Printf("[%s] %s\n", m.Sender, m.Text)
	}
	c.Use(id)
}

func listConversations(c *client.Client) {
	summaries, err := c.Conversations(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if len(summaries) == 0 {
		fmt.Println("no conversations yet")
		return
	}
	for _, s := range summaries {
		preview := ""
		if s.FirstMessage != nil {
			preview = s.FirstMessage.Text
			if len(preview) > 60 {
				preview = preview[:60] + "…"
			}
		}
		fmt.Printf("%s  (%d messages)  %s\n", s.ID, s.MessageCount, preview)
	}
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".spurr-session"
	}
	return filepath.Join(home, ".spurr", "session")
}

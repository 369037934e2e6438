package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"annothub/internal/client"
	"annothub/pkg/models"
)

func main() {
	server := flag.String("server", "ws://127.0.0.1:8080/ws", "presence websocket URL")
	document := flag.String("document", "", "document id to join")
	user := flag.String("user", "", "local user id")
	token := flag.String("token", "", "bearer token from the identity provider")
	pretty := flag.Bool("pretty", true, "pretty print JSON events")
	flag.Parse()

	if *document == "" || *user == "" || *token == "" {
		log.Fatal("-document, -user and -token are required")
	}

	wsURL := fmt.Sprintf("%s?token=%s", *server, url.QueryEscape(*token))

	registry := client.NewRegistry()
	router := client.NewRouter(*user, registry, client.Callbacks{
		OnAnnotationCreated: printEvent("annotation_created", *pretty),
		OnAnnotationUpdated: printEvent("annotation_updated", *pretty),
		OnAnnotationDeleted: printEvent("annotation_deleted", *pretty),
		OnPresenceChanged: func(users []models.CollaborationUser) {
			log.Printf("[sync-client] %d collaborator(s) present", len(users))
		},
		OnError: func(message string) {
			log.Printf("[sync-client] server error: %s", message)
		},
	})

	conn := client.NewConnection(client.Options{
		URL:        wsURL,
		DocumentID: *document,
		UserID:     *user,
		Router:     router,
	})

	log.Printf("[sync-client] connecting to %s as %s", *server, *user)
	conn.Connect()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[sync-client] disconnecting")
	conn.Disconnect()
}

func printEvent(kind string, pretty bool) func(json.RawMessage) {
	return func(data json.RawMessage) {
		if !pretty {
			fmt.Printf("%s %s\n", kind, string(data))
			return
		}

		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			fmt.Printf("%s %s\n", kind, string(data))
			return
		}
		b, _ := json.MarshalIndent(obj, "", "  ")
		fmt.Printf("%s:\n%s\n", kind, string(b))
	}
}

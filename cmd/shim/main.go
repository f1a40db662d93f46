// cmd/shim/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MereWhiplash/embedsync/internal/client"
	"github.com/MereWhiplash/embedsync/internal/shim"
)

func main() {
	apiURL := flag.String("api-url", "", "embedsync API URL (required)")
	adminToken := flag.String("admin-token", "", "Admin token for sync tools")
	flag.Parse()

	// Check for env vars if flags not set
	if *apiURL == "" {
		*apiURL = os.Getenv("EMBEDSYNC_API_URL")
	}
	if *adminToken == "" {
		*adminToken = os.Getenv("EMBEDSYNC_SERVER_ADMIN_TOKEN")
	}

	if *apiURL == "" {
		log.Fatal("API URL required: use --api-url or EMBEDSYNC_API_URL environment variable")
	}

	apiClient := client.New(*apiURL, *adminToken)
	handler := shim.NewHandler(apiClient)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "embedsync",
		Version: "1.0.0",
	}, nil)

	shim.Register(server, handler)

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down...")
		cancel()
	}()

	if health, err := apiClient.Health(ctx); err != nil {
		log.Printf("Warning: API not reachable at %s: %v", *apiURL, err)
	} else {
		log.Printf("Connected to %s (sync mode %s)", *apiURL, health.Mode)
	}

	log.Println("Starting embedsync shim...")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

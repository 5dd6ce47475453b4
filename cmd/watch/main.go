// Command watch tails a tweetwall feed in the terminal, printing the
// reconciled feed as change events arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/blackmichael/tweetwall/internal/domain"
	"github.com/blackmichael/tweetwall/internal/feedclient"
	"github.com/goccy/go-json"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		server  string
		secret  string
		verbose bool
	)

	flag.StringVar(&server, "server", envOrDefault("TWEETWALL_SERVER", "http://localhost:3000"), "tweetwall server base URL")
	flag.StringVar(&secret, "secret", envOrDefault("TWEETWALL_API_SECRET", ""), "API secret for the initial snapshot fetch")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Parse()

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var initial []domain.TweetView
	if secret != "" {
		snapshot, err := fetchSnapshot(ctx, server, secret)
		if err != nil {
			return fmt.Errorf("fetch initial snapshot: %w", err)
		}
		initial = snapshot
	}
	printFeed(initial)

	client := feedclient.New(streamURL(server), initial, feedclient.Options{
		OnConnected: func() {
			fmt.Println("-- connected --")
		},
		OnDisconnected: func() {
			fmt.Println("-- disconnected, retrying --")
		},
		OnChange: printFeed,
		Logger:   logger,
	})

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func streamURL(server string) string {
	ws := strings.Replace(server, "http://", "ws://", 1)
	ws = strings.Replace(ws, "https://", "wss://", 1)
	return strings.TrimSuffix(ws, "/") + "/api/tweets/ws"
}

// fetchSnapshot seeds the local feed from the list endpoint. IDs only;
// metadata fills in as events arrive.
func fetchSnapshot(ctx context.Context, server, secret string) ([]domain.TweetView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(server, "/")+"/api/tweets", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-secret", secret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	var parsed struct {
		TweetIDs []string `json:"tweetIds"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	views := make([]domain.TweetView, len(parsed.TweetIDs))
	for i, id := range parsed.TweetIDs {
		views[i] = domain.TweetView{ID: id}
	}
	return views, nil
}

func printFeed(items []domain.TweetView) {
	fmt.Printf("feed (%d tweets):\n", len(items))
	for _, item := range items {
		seen := " "
		if item.Seen {
			seen = "x"
		}
		submitters := strings.Join(item.SubmittedBy, ", ")
		if submitters == "" {
			submitters = domain.DefaultPosterName
		}
		fmt.Printf("  [%s] %s  (%s)\n", seen, domain.CanonicalURL(item.ID), submitters)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

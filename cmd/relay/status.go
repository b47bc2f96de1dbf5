package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show watcher status via the local gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s:%d/api/v1/status", cfg.Gateway.Host, cfg.Gateway.Port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("Relay is not running")
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	var status struct {
		Version       string         `json:"version"`
		Uptime        string         `json:"uptime"`
		Subscribers   int            `json:"subscribers"`
		Dispatches24h int            `json:"dispatches_24h"`
		Repos24h      map[string]int `json:"repos_24h"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to parse status response: %w", err)
	}

	fmt.Println("Relay Status")
	fmt.Println("────────────")
	fmt.Printf("Version:        %s\n", status.Version)
	fmt.Printf("Uptime:         %s\n", status.Uptime)
	fmt.Printf("Dispatches 24h: %d\n", status.Dispatches24h)
	if len(status.Repos24h) > 0 {
		fmt.Println("By repository:")
		for repo, count := range status.Repos24h {
			fmt.Printf("  %-40s %d\n", repo, count)
		}
	}
	return nil
}

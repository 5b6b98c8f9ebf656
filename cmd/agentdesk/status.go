package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/agentdesk/internal/claim"
	"github.com/ashureev/agentdesk/internal/connection"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type dashboardResponse struct {
	Pending []domain.ChatSession `json:"pending"`
	Active  []domain.ChatSession `json:"active"`
	Closed  []domain.ChatSession `json:"closed"`
	Claims  []claim.Intent       `json:"claims"`
}

type meResponse struct {
	AgentID    string            `json:"agent_id"`
	Connection connection.Status `json:"connection"`
}

func newStatusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the queue as seen by a running agentdesk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8090", "base URL of the local agentdesk API")
	return cmd
}

func runStatus(ctx context.Context, out io.Writer, addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	base := strings.TrimRight(addr, "/")

	var me meResponse
	if err := getJSON(ctx, client, base+"/api/me", &me); err != nil {
		return err
	}
	var dash dashboardResponse
	if err := getJSON(ctx, client, base+"/api/dashboard", &dash); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	stateColor := green
	if me.Connection.State != connection.StateOpen {
		stateColor = red
	}
	cyan.Fprintf(out, "agent %s ", me.AgentID)
	stateColor.Fprintf(out, "[%s]\n", me.Connection.State)

	yellow.Fprintf(out, "pending (%d)\n", len(dash.Pending))
	printSessions(out, dash.Pending)
	green.Fprintf(out, "active (%d)\n", len(dash.Active))
	printSessions(out, dash.Active)
	fmt.Fprintf(out, "closed (%d)\n", len(dash.Closed))
	if len(dash.Claims) > 0 {
		yellow.Fprintf(out, "claims in flight: %d\n", len(dash.Claims))
	}
	return nil
}

func printSessions(out io.Writer, sessions []domain.ChatSession) {
	for _, s := range sessions {
		line := fmt.Sprintf("  #%d %s", s.ID, s.CustomerName)
		if s.IssueCategory != "" {
			line += " (" + s.IssueCategory + ")"
		}
		if s.Optimistic {
			line += " claiming"
		}
		fmt.Fprintln(out, line)
	}
}

func getJSON(ctx context.Context, client *http.Client, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

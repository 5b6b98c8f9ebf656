package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ashureev/agentdesk/internal/backend"
	"github.com/ashureev/agentdesk/internal/config"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/store"
	"github.com/spf13/cobra"
)

// transcriptSource is the pair of lookups the ticket command consults in order.
type transcriptSource struct {
	archive store.Repository
	backend interface {
		TicketMessages(ctx context.Context, ticketID int64) ([]domain.Message, error)
	}
}

func (s transcriptSource) messages(ctx context.Context, id int64) ([]domain.Message, string, error) {
	if s.archive != nil {
		archived, err := s.archive.GetArchivedSession(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if archived != nil {
			msgs, err := s.archive.ListArchivedMessages(ctx, id)
			return msgs, "archive", err
		}
	}
	msgs, err := s.backend.TicketMessages(ctx, id)
	return msgs, "backend", err
}

func newTicketCmd() *cobra.Command {
	var agentID string

	cmd := &cobra.Command{
		Use:   "ticket <id>",
		Short: "Print the transcript of a closed session as JSON",
		Long:  "Looks the transcript up in the local archive first and falls back to the backend.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid ticket id %q", args[0])
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)
			if agentID == "" {
				agentID = cfg.AgentID
			}

			src := transcriptSource{backend: backend.New(cfg.BackendURL, agentID, cfg.HTTPTimeout, logger)}
			if cfg.Archive.Enabled {
				repo, err := store.NewSQLite(cfg.DBPath)
				if err != nil {
					return fmt.Errorf("initialize database: %w", err)
				}
				defer repo.Close()
				src.archive = repo
			}

			msgs, from, err := src.messages(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("ticket %d: %w", id, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"ticket_id": id,
				"source":    from,
				"messages":  msgs,
			})
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "agent id sent to the backend (defaults to AGENT_ID)")
	return cmd
}

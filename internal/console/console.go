// Package console wires the session synchronizer together: one upstream
// channel, one event loop, and the stores the local API reads from.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/agentdesk/internal/claim"
	"github.com/ashureev/agentdesk/internal/connection"
	"github.com/ashureev/agentdesk/internal/directory"
	"github.com/ashureev/agentdesk/internal/dispatch"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/ledger"
	"github.com/ashureev/agentdesk/internal/loop"
	"github.com/ashureev/agentdesk/internal/settings"
	"github.com/ashureev/agentdesk/internal/store"
)

// ErrAtCapacity is returned by Claim when the agent already holds the
// configured maximum of active chats.
var ErrAtCapacity = errors.New("active chat limit reached")

const frameTimeout = 5 * time.Second

// Backend is the REST side of the support server.
type Backend interface {
	CloseSession(ctx context.Context, sessionID int64) error
	TicketMessages(ctx context.Context, ticketID int64) ([]domain.Message, error)
}

// Options configures a Console.
type Options struct {
	AgentID        string
	UpstreamURL    string
	ReconnectDelay time.Duration
	ClaimTimeout   time.Duration
	ClosedLimit    int
	Backend        Backend
	// Repo is optional; without it nothing is archived and settings are not persisted.
	Repo   store.Repository
	Logger *slog.Logger
}

// Console is the agent-side synchronizer.
type Console struct {
	agentID  string
	loop     *loop.Loop
	conn     *connection.Manager
	dir      *directory.Directory
	ledger   *ledger.Ledger
	arbiter  *claim.Arbiter
	settings *settings.Store
	dispatch *dispatch.Dispatcher
	archiver *store.Archiver
	repo     store.Repository
	backend  Backend
	logger   *slog.Logger
}

// New builds a console. Persisted settings are loaded from opts.Repo.
func New(ctx context.Context, opts Options) (*Console, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Console{
		agentID: opts.AgentID,
		loop:    loop.New(logger),
		dir:     directory.New(opts.ClosedLimit, logger),
		ledger:  ledger.New(logger),
		repo:    opts.Repo,
		backend: opts.Backend,
		logger:  logger.With("component", "console"),
	}

	initial := settings.Default()
	var persister settings.Persister
	if opts.Repo != nil {
		persister = opts.Repo
		data, err := opts.Repo.LoadSettings(ctx)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		if data != nil {
			if err := json.Unmarshal(data, &initial); err != nil {
				c.logger.Warn("ignoring unreadable persisted settings", "error", err)
				initial = settings.Default()
			}
		}
	}
	c.settings = settings.NewStore(initial, persister, logger)

	c.conn = connection.New(connection.Options{
		URL:            opts.UpstreamURL,
		ReconnectDelay: opts.ReconnectDelay,
		Logger:         logger,
	}, c.onFrame)
	c.arbiter = claim.New(c.dir, c.ledger, c.conn, opts.AgentID, opts.ClaimTimeout, logger)

	var archiver dispatch.Archiver
	if opts.Repo != nil {
		c.archiver = store.NewArchiver(opts.Repo, logger)
		archiver = c.archiver
	}
	c.dispatch = dispatch.New(c.dir, c.ledger, c.arbiter, c.settings, archiver, logger)

	return c, nil
}

// Run starts the event loop and the upstream channel, and blocks until ctx
// is cancelled.
func (c *Console) Run(ctx context.Context) error {
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		c.loop.Run(ctx)
	}()
	go c.watchConnection(ctx)

	if err := c.conn.Connect(ctx, c.agentID); err != nil {
		c.logger.Warn("initial connect failed, will retry", "error", err)
	}

	<-ctx.Done()
	c.conn.Close()
	c.arbiter.Stop()
	<-loopDone
	if c.archiver != nil {
		c.archiver.Close()
	}
	c.logger.Info("console stopped")
	return nil
}

// onFrame hands a raw frame to the event loop; arrival order is preserved
// because the read loop posts sequentially.
func (c *Console) onFrame(data []byte) {
	err := c.loop.Post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		defer cancel()
		c.dispatch.Handle(ctx, data)
	})
	if err != nil {
		c.logger.Debug("dropping frame, event loop stopped", "error", err)
	}
}

func (c *Console) watchConnection(ctx context.Context) {
	statuses := c.conn.Subscribe(ctx)
	wasOpen := false
	for s := range statuses {
		switch s.State {
		case connection.StateOpen:
			wasOpen = true
		case connection.StateReconnecting:
			if wasOpen {
				c.dispatch.Notify(domain.Notice{
					Kind:  domain.NoticeDisconnected,
					Level: domain.LevelError,
					Text:  "Connection lost, reconnecting",
				})
			}
			wasOpen = false
		}
	}
}

// AgentID returns the identity bound to the upstream channel.
func (c *Console) AgentID() string {
	return c.agentID
}

// Claim requests assignment of a pending session.
func (c *Console) Claim(ctx context.Context, sessionID int64) error {
	var err error
	doErr := c.loop.Do(ctx, func() {
		if limit := c.settings.Get().MaxActiveChats; limit > 0 && len(c.dir.Active()) >= limit {
			err = fmt.Errorf("claim %d: %w", sessionID, ErrAtCapacity)
			return
		}
		err = c.arbiter.Claim(ctx, sessionID)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// Open selects an active session and requests its history.
func (c *Console) Open(ctx context.Context, sessionID int64) error {
	var err error
	if doErr := c.loop.Do(ctx, func() { err = c.arbiter.Open(ctx, sessionID) }); doErr != nil {
		return doErr
	}
	return err
}

// SendMessage posts an agent message to an active session.
func (c *Console) SendMessage(ctx context.Context, sessionID int64, content string) (domain.Message, error) {
	var (
		msg domain.Message
		err error
	)
	if doErr := c.loop.Do(ctx, func() { msg, err = c.arbiter.SendMessage(ctx, sessionID, content) }); doErr != nil {
		return domain.Message{}, doErr
	}
	return msg, err
}

// CloseSession ends a session on the server and applies the close locally.
func (c *Console) CloseSession(ctx context.Context, sessionID int64) error {
	if c.dir.Where(sessionID) != directory.PartitionActive {
		return fmt.Errorf("close %d: %w", sessionID, claim.ErrNotActive)
	}
	if err := c.backend.CloseSession(ctx, sessionID); err != nil {
		return err
	}
	return c.loop.Do(ctx, func() { c.dispatch.CloseSession(sessionID) })
}

// Dashboard returns all partitions.
func (c *Console) Dashboard() directory.View {
	return c.dir.View()
}

// Messages returns the live log of a session in timestamp order.
func (c *Console) Messages(sessionID int64) []domain.Message {
	return c.ledger.Ordered(sessionID)
}

// TicketMessages returns a closed transcript, from the local archive when
// present and from the server otherwise.
func (c *Console) TicketMessages(ctx context.Context, ticketID int64) ([]domain.Message, error) {
	if c.repo != nil {
		s, err := c.repo.GetArchivedSession(ctx, ticketID)
		if err != nil {
			c.logger.Warn("archive lookup failed, falling back to server", "error", err, "ticket_id", ticketID)
		} else if s != nil {
			return c.repo.ListArchivedMessages(ctx, ticketID)
		}
	}
	return c.backend.TicketMessages(ctx, ticketID)
}

// Settings returns the current console settings.
func (c *Console) Settings() settings.Settings {
	return c.settings.Get()
}

// Connection returns the upstream channel state.
func (c *Console) Connection() connection.Status {
	return c.conn.Status()
}

// Claims returns outstanding claim intents.
func (c *Console) Claims() []claim.Intent {
	return c.arbiter.Intents()
}

// Selected returns the session open in the UI, if any.
func (c *Console) Selected() (int64, bool) {
	return c.arbiter.Selected()
}

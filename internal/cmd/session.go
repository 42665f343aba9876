package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/config"
	"github.com/taleforge/supportsync/internal/convstore"
	"github.com/taleforge/supportsync/internal/debug"
	"github.com/taleforge/supportsync/internal/iocontext"
	"github.com/taleforge/supportsync/internal/metrics"
	"github.com/taleforge/supportsync/internal/notify"
	"github.com/taleforge/supportsync/internal/outfmt"
	"github.com/taleforge/supportsync/internal/syncengine"
	"github.com/taleforge/supportsync/internal/transport"
	"github.com/taleforge/supportsync/internal/validation"
)

// session holds everything a command needs to talk to the support server:
// the REST client, the engine settings and the active conversation store.
type session struct {
	cfg      config.ClientConfig
	client   *api.Client
	settings config.Settings
	store    convstore.Store
	logger   *slog.Logger
	closers  []func()
}

func openSession(cmd *cobra.Command) (*session, error) {
	client, cfg, err := getClient()
	if err != nil {
		return nil, err
	}
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	settings, err := config.LoadSettings(dir)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:      cfg,
		client:   client,
		settings: settings,
		logger:   slog.Default(),
	}
	store, closeStore, err := openStore(cmdContext(cmd), settings.Store, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	s.store = store
	s.closers = append(s.closers, closeStore)
	return s, nil
}

// Close releases the store and anything the session started.
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *session) requireAgent() error {
	if s.cfg.Role != api.RoleAgent {
		return fmt.Errorf("this command needs an agent account, got role %q: %w", s.cfg.Role, syncengine.ErrAgentOnly)
	}
	return nil
}

// openStore builds the configured active conversation store. The returned
// func releases its connection.
func openStore(ctx context.Context, st config.StoreSettings, baseURL string) (convstore.Store, func(), error) {
	switch st.Backend {
	case config.StoreMemory:
		return convstore.NewMemoryStore(), func() {}, nil
	case config.StoreRedis:
		rdb, err := convstore.DialRedis(ctx, st.RedisAddr, st.RedisPassword, st.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return convstore.NewRedisStore(rdb, baseURL, st.RedisTTL.Std()), func() { _ = rdb.Close() }, nil
	default:
		dir := st.Dir
		if dir == "" {
			var err error
			if dir, err = convstore.DefaultDir(); err != nil {
				return nil, nil, fmt.Errorf("locate state dir: %w", err)
			}
		}
		return convstore.NewFileStore(dir, baseURL), func() {}, nil
	}
}

// liveEngine builds an engine with an event stream transport, notification
// sinks and metrics for an interactive view. The caller closes it.
func (s *session) liveEngine(cmd *cobra.Command, role api.Role) (*syncengine.Engine, error) {
	wsURL, err := validation.EventStreamURL(s.cfg.BaseURL, transport.Path)
	if err != nil {
		return nil, err
	}
	tr := transport.New(s.settings.TransportConfig(transport.Config{
		URL:    wsURL,
		Token:  s.cfg.Token,
		Logger: debug.Component(s.logger, "transport"),
	}))

	m := metrics.New()
	if flags.MetricsAddr != "" {
		ctx, cancel := context.WithCancel(cmdContext(cmd))
		s.closers = append(s.closers, cancel)
		go func() {
			if err := m.Serve(ctx, flags.MetricsAddr, s.logger); err != nil {
				s.logger.Warn("metrics server stopped", "addr", flags.MetricsAddr, "error", err)
			}
		}()
	}

	return syncengine.New(syncengine.Config{
		API:        s.client.Support(),
		Transport:  tr,
		Store:      s.store,
		Dispatcher: s.dispatcher(cmd, role),
		Metrics:    m,
		Role:       role,
		Logger:     s.logger,
	})
}

// dispatcher routes notifications to stderr. The bell only rings on a
// terminal, and JSON modes keep stderr free of toasts.
func (s *session) dispatcher(cmd *cobra.Command, role api.Role) *notify.Dispatcher {
	ioStreams := iocontext.GetIO(cmd.Context())
	var sound notify.Sound = notify.NopSound{}
	var toaster notify.Toaster = notify.NopToaster{}

	if s.settings.Notif.Sound && !flags.NoSound && !flags.Quiet && ioStreams.IsTerminal() {
		sound = notify.BellSound{W: ioStreams.ErrOut}
	}
	if s.settings.Notif.Toasts && !flags.Quiet && !outfmt.IsJSON(cmd.Context()) {
		toaster = &notify.TerminalToaster{W: ioStreams.ErrOut}
	}
	return notify.New(role, sound, toaster)
}

// restEngine builds an engine without a transport for one-shot commands
// that need conversation state but no live updates.
func (s *session) restEngine(role api.Role) (*syncengine.Engine, error) {
	return syncengine.New(syncengine.Config{
		API:    s.client.Support(),
		Store:  s.store,
		Role:   role,
		Logger: s.logger,
	})
}

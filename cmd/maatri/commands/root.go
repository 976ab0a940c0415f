// Package commands defines the maatri command tree.
package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/config"
	"github.com/maatrinet/go-intake/internal/observability/logging"
	"github.com/maatrinet/go-intake/internal/session"
)

// Root returns the root command.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "maatri",
		Short:         "Maternal and child health console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(Login())
	cmd.AddCommand(Logout())
	cmd.AddCommand(Whoami())

	cmd.AddCommand(Register())
	cmd.AddCommand(Intake())
	cmd.AddCommand(Apply())

	cmd.AddCommand(Dashboard())
	cmd.AddCommand(ExportRegistry())
	cmd.AddCommand(Applications())
	cmd.AddCommand(Recompute())
	cmd.AddCommand(Admin())
	cmd.AddCommand(HighRisk())
	cmd.AddCommand(OffTrack())
	cmd.AddCommand(Hospitals())
	cmd.AddCommand(Patient())
	cmd.AddCommand(Assistant())
	cmd.AddCommand(Events())

	return cmd
}

// env is what every command runs with
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *session.FileStore
	client *backend.Client
	out    io.Writer
}

func newEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	// the console keeps its own output clean; logs only surface at debug
	level := "error"
	if cfg.LogLevel == "debug" {
		level = "debug"
	}
	logger, err := logging.New(level, true)
	if err != nil {
		return nil, err
	}

	path := cfg.SessionFile
	if path == "" {
		path = session.DefaultPath()
	}

	bc := backend.DefaultConfig()
	bc.BaseURL = cfg.BackendURL
	bc.Timeout = cfg.BackendTimeout
	bc.Retries = cfg.BackendRetries

	return &env{
		cfg:    cfg,
		logger: logger,
		store:  session.NewFileStore(path),
		client: backend.New(bc, logger),
		out:    cmd.OutOrStdout(),
	}, nil
}

// user returns the logged-in user, requiring one of roles when given
func (e *env) user(roles ...session.Role) (session.User, error) {
	u, err := e.store.Load()
	if errors.Is(err, session.ErrNotLoggedIn) {
		return session.User{}, errors.New("not logged in, run `maatri login` first")
	}
	if err != nil {
		return session.User{}, err
	}
	if len(roles) > 0 && !u.Is(roles...) {
		return session.User{}, fmt.Errorf("this command needs one of %v, you are logged in as %s", roles, u.Role)
	}
	return u, nil
}

// as returns a backend client acting for u
func (e *env) as(u session.User) *backend.Client {
	return e.client.WithToken(u.Token)
}

// failure turns a backend error into the message the user should see
func failure(err error, fallback string) error {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return errors.New(apiErr.Detail)
	}
	if errors.Is(err, backend.ErrUnavailable) {
		return errors.New("the backend is unreachable, try again shortly")
	}
	return fmt.Errorf("%s: %w", fallback, err)
}

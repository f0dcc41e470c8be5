package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/loopkeeper/internal/config"
	"github.com/iambrandonn/loopkeeper/internal/journal"
	"github.com/iambrandonn/loopkeeper/internal/lifecycle"
	"github.com/iambrandonn/loopkeeper/internal/loop"
	"github.com/iambrandonn/loopkeeper/internal/modes"
	"github.com/iambrandonn/loopkeeper/internal/notepad"
	"github.com/iambrandonn/loopkeeper/internal/notify"
	"github.com/iambrandonn/loopkeeper/internal/state"
	"github.com/iambrandonn/loopkeeper/internal/workspace"
)

// sessionEnv supplies the session id when --session is not given.
const sessionEnv = "LOOPKEEPER_SESSION_ID"

// app is everything a command needs, wired from flags and configuration.
type app struct {
	dir      string
	session  string
	cfg      *config.Config
	logger   *slog.Logger
	ctl      *lifecycle.Controller
	driver   *loop.Driver
	notifier *notify.Dispatcher
}

// loadApp resolves the project directory (hookCwd wins over --dir),
// loads configuration and wires the collaborators. Logs go to stderr since
// stdout may carry hook JSON.
func loadApp(cmd *cobra.Command, hookCwd string) (*app, error) {
	dir, err := resolveDir(cmd, hookCwd)
	if err != nil {
		return nil, err
	}

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath, dir)
	if err != nil {
		return nil, err
	}

	levelName := cfg.Log.Level
	if flagLevel, _ := cmd.Flags().GetString("log-level"); flagLevel != "" {
		levelName = flagLevel
	}
	level, _, err := parseLogLevel(levelName)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))

	session, _ := cmd.Flags().GetString("session")
	if session == "" {
		session = os.Getenv(sessionEnv)
	}

	ctl := lifecycle.NewController(cfg.Loop, lifecycle.Deps{
		Store:   state.NewStore(state.DefaultWorkflow, logger),
		Gate:    modes.NewRegistry(logger),
		Notes:   notepad.NewStore(logger),
		Reaper:  modes.NewReaper(cfg.Paths.GlobalStateDir, logger),
		Journal: journal.NewRecorder(state.DefaultWorkflow, logger),
		Logger:  logger,
	})

	return &app{
		dir:      dir,
		session:  session,
		cfg:      cfg,
		logger:   logger,
		ctl:      ctl,
		driver:   loop.NewDriver(ctl, logger),
		notifier: notify.NewDispatcher(cfg.Notifications, logger),
	}, nil
}

// resolveDir picks the project directory. A hook's working directory wins
// over --dir and, like the process working directory, is walked up to the
// nearest project root since agent sessions often run in a subdirectory.
func resolveDir(cmd *cobra.Command, hookCwd string) (string, error) {
	if hookCwd != "" {
		abs, err := filepath.Abs(hookCwd)
		if err != nil {
			return "", fmt.Errorf("failed to resolve hook directory %s: %w", hookCwd, err)
		}
		return findProjectRoot(abs), nil
	}

	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return "", err
	}
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = findProjectRoot(cwd)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project directory %s: %w", dir, err)
	}
	return abs, nil
}

// findProjectRoot walks up from start to the nearest directory holding a
// .omc directory, falling back to start itself. The home directory is
// skipped because ~/.omc holds user-scoped state, not a project.
func findProjectRoot(start string) string {
	home, _ := os.UserHomeDir()
	dir := start
	for {
		if dir != home {
			info, err := os.Stat(filepath.Join(dir, workspace.RootDirName))
			if err == nil && info.IsDir() {
				return dir
			}
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return start
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

func parseLogLevel(input string) (slog.Level, string, error) {
	level := strings.ToLower(strings.TrimSpace(input))
	switch level {
	case "", "info":
		return slog.LevelInfo, "info", nil
	case "debug":
		return slog.LevelDebug, "debug", nil
	case "warn", "warning":
		return slog.LevelWarn, "warn", nil
	case "error", "err":
		return slog.LevelError, "error", nil
	default:
		return slog.LevelInfo, "", fmt.Errorf("unsupported log level %q", input)
	}
}

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/app"
	"github.com/charlesng35/liveclass/internal/classroom"
	"github.com/charlesng35/liveclass/internal/realtime"
	"github.com/charlesng35/liveclass/internal/roomclient"
	"github.com/charlesng35/liveclass/internal/signaling"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const (
	dialTimeout       = 15 * time.Second
	disconnectTimeout = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	server     string
	sessionID  string
	token      string
	configPath string
	logLevel   string
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("liveclass", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var opts options
	fs.StringVar(&opts.server, "server", "http://localhost:8000", "Room server base URL")
	fs.StringVar(&opts.sessionID, "session", "", "Session to join")
	fs.StringVar(&opts.token, "token", os.Getenv("LIVECLASS_TOKEN"), "API access token (defaults to $LIVECLASS_TOKEN)")
	fs.StringVar(&opts.configPath, "config", "", "Directory holding config.yaml with classroom settings")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "Log level")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if strings.TrimSpace(opts.sessionID) == "" {
		return options{}, errors.New("-session is required")
	}
	if strings.TrimSpace(opts.token) == "" {
		return options{}, errors.New("-token or LIVECLASS_TOKEN is required")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	var cfgPaths []string
	if opts.configPath != "" {
		cfgPaths = append(cfgPaths, opts.configPath)
	}
	cfg, err := app.LoadConfig(cfgPaths...)
	if err != nil {
		return err
	}
	if err := app.ConfigureLogging(opts.logLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort
	log := logger.WithModule("classroom.cli")

	rooms := roomclient.New(opts.server, opts.token)

	info, err := rooms.Session(ctx, opts.sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	creds, err := rooms.StartSession(ctx, opts.sessionID)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	self, err := roomclient.Identity(creds.Token)
	if err != nil {
		return err
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, dialTimeout)
	header := http.Header{"Authorization": {"Bearer " + creds.Token}}
	conn, err := realtime.Dial(dialCtx, creds.URL, header)
	cancelDial()
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		_ = conn.Disconnect(dctx)
	}()

	ctrl, err := classroom.New(classroom.Config{
		Session:          info.Classroom(),
		Self:             self,
		Bus:              signaling.NewBus(conn, signaling.WithSessionID(info.ID)),
		RosterUpdates:    conn.RosterUpdates(),
		Rooms:            rooms,
		Scheduler:        rooms,
		Reporter:         rooms,
		Media:            conn,
		Disconnect:       conn,
		DedupCapacity:    cfg.Classroom.EffectiveDedupCapacity(),
		WarningThreshold: cfg.Classroom.WarningThreshold,
		ChatMaxLength:    cfg.Classroom.ChatMaxLength,
		NoticeTTL:        cfg.Classroom.NoticeTTL,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(runCtx) }()

	cons := &console{ctrl: ctrl, out: out}
	cons.printf("joined %q as %s (%s); /help lists commands", info.Title, self.DisplayName, self.Role)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-runCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			cancel()
			return <-runErr
		case <-conn.Done():
			cons.printf("* disconnected: %s", conn.CloseReason())
			cancel()
			return <-runErr
		case evt := <-ctrl.Events():
			cons.printEvent(evt)
		case line, ok := <-lines:
			if !ok {
				cancel()
				return <-runErr
			}
			if err := cons.handle(runCtx, line); err != nil {
				if errors.Is(err, errQuit) {
					cancel()
					return <-runErr
				}
				log.Debug("command failed", zap.String("command", line), zap.Error(err))
				cons.printf("! %v", err)
			}
		}
	}
}

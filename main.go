package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"molva/internal/app"
	"molva/internal/attach"
	"molva/internal/channel"
	"molva/internal/config"
	"molva/internal/directory"
	"molva/internal/msgsync"
	"molva/internal/rest"
	"molva/internal/session"
	"molva/internal/storage"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	email := flag.String("email", "", "Log in with this email (with -password) when no session is persisted")
	password := flag.String("password", "", "Password for -email")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.NewBboltStorage(cfg.StateFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	api := rest.NewClient(cfg.APIBaseURL, cfg.RequestTimeout)
	ch := channel.NewClient(channel.Config{
		URL:               cfg.ChannelURL,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	})

	sess := session.NewStore(store)
	dir := directory.NewClient(api, store)
	sy := msgsync.New(api)
	resolver := attach.NewResolver(api, cfg.MaxAttachmentSize)

	engine := app.NewEngine(cfg, sess, api, ch, dir, sy, resolver)
	engine.OnNotice(func(n app.Notice) {
		slog.Warn("notice", "message", n.Message, "persistent", n.Persistent)
	})

	err = engine.Resume(ctx)
	switch {
	case errors.Is(err, session.ErrNoSession) && *email != "":
		if err := engine.Login(ctx, *email, *password); err != nil {
			return err
		}
	case errors.Is(err, session.ErrNoSession):
		return errors.New("no persisted session; run with -email and -password to log in")
	case err != nil:
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down...")
		// The session record stays persisted; only the live connection is
		// torn down.
		return ch.Close()
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}

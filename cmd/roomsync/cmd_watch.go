package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/user/roomsync/internal/dispatch"
	"github.com/user/roomsync/internal/ingest"
	"github.com/user/roomsync/internal/janitor"
	"github.com/user/roomsync/internal/nav"
	"github.com/user/roomsync/internal/pager"
	"github.com/user/roomsync/internal/session"
	"github.com/user/roomsync/internal/store"
	"github.com/user/roomsync/internal/transport"
	"github.com/user/roomsync/internal/types"
)

var watchRoom string

func init() {
	watchCmd.Flags().StringVar(&watchRoom, "room", "", "room id to mirror")
	watchCmd.MarkFlagRequired("room")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Load a room's history and mirror live events",
	RunE:  runWatch,
}

// bellNotifier rings the terminal bell for inbound messages.
type bellNotifier struct{}

func (bellNotifier) MessageReceived(msg *types.Message) {
	fmt.Fprint(os.Stderr, "\a")
	slog.Info("message received", "message_id", string(msg.ID), "thread_id", string(msg.ThreadID))
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	roomID := types.RoomID(watchRoom)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Store
	var storeOpts []store.Option
	if cfg.Notify.Enabled {
		storeOpts = append(storeOpts, store.WithNotifier(bellNotifier{}))
	}
	st := store.New(storeOpts...)

	// Tabs and navigation. The manager's activation callback feeds the
	// resolver's current-thread pointer, so the resolver must exist
	// before any tab operation fires it.
	var resolver *nav.Resolver
	tabs := session.NewManager(func(id types.ThreadID) {
		resolver.SetCurrent(id)
	})
	resolver = nav.New(st, tabs)

	tabStore := session.NewTabStore(cfg.DataDir)
	layout, err := tabStore.Load(roomID)
	if err != nil {
		return fmt.Errorf("load tab layout: %w", err)
	}
	tabs.Restore(layout)

	// Dispatch queue
	queue := dispatch.NewQueue(int64(cfg.MaxConcurrent))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	defer queue.Stop()

	// Ingestion
	ing := ingest.New(st, ingest.WithRenameListener(tabs))

	// History
	history := transport.NewHistoryClient(cfg.Server.BaseURL, cfg.Server.AuthToken)
	walker := pager.NewWalker(st, history, roomID, cfg.Paging.ThreadLimit)
	if err := walker.Run(ctx); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	slog.Info("history loaded",
		"room_id", string(roomID),
		"threads", len(st.Threads()),
	)

	// Push channel
	channel := transport.NewChannel(cfg.Server.SocketURL, cfg.Server.AuthToken, queue, ing)
	if err := channel.Connect(ctx); err != nil {
		return err
	}
	defer channel.Close()
	if err := channel.Subscribe(roomID); err != nil {
		return err
	}

	// Janitor
	jan := janitor.New(st, cfg.Janitor.Schedule, cfg.JanitorTTL())
	if err := jan.Start(); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer jan.Stop()

	if current, ok := resolver.CurrentThread(); ok {
		slog.Info("current thread", "thread_id", string(current.ID), "name", resolver.DisplayName(current.ID))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("shutting down", "signal", sig)
	case <-channel.Done():
		slog.Warn("push channel closed")
	}

	if err := tabStore.Save(roomID, tabs.Snapshot()); err != nil {
		slog.Error("save tab layout failed", "error", err)
	}
	return nil
}

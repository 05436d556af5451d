package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"crisisfeed/database"
	"crisisfeed/feed"
	"crisisfeed/gateway"
	"crisisfeed/localstate"
	"crisisfeed/models"
	"crisisfeed/realtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	roleFlag string
	embedded bool
)

func addFeedCommands(root *cobra.Command) {
	root.PersistentFlags().StringVarP(&roleFlag, "role", "r", "", "Role selector (journalist, government, troll, health, student, influencer, deev, conspiracy, other)")
	root.PersistentFlags().BoolVar(&embedded, "embedded", false, "Use the local database directly instead of a running backend")

	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show the feed, newest first",
			Args:  cobra.NoArgs,
			RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *feed.Session, args []string) error {
				if err := s.Err(); err != nil {
					return fmt.Errorf("could not load posts: %w", err)
				}
				renderFeed(cmd.OutOrStdout(), s)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "post [content]",
			Short: "Publish a post as the current identity",
			Args:  cobra.MinimumNArgs(1),
			RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *feed.Session, args []string) error {
				p, err := s.CreatePost(ctx, strings.Join(args, " "))
				if err != nil {
					return explain("create post", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "posted %s\n", shortID(p.ID))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "like [post-id]",
			Short: "Like a post, or remove your like",
			Args:  cobra.ExactArgs(1),
			RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *feed.Session, args []string) error {
				id, err := resolvePostID(s, args[0])
				if err != nil {
					return err
				}
				p, err := s.ToggleLike(ctx, id)
				if err != nil {
					return explain("like post", err)
				}
				verb := "unliked"
				if s.HasLiked(p) {
					verb = "liked"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d likes)\n", verb, shortID(p.ID), len(p.Likes))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "comment [post-id] [content]",
			Short: "Comment on a post",
			Args:  cobra.MinimumNArgs(2),
			RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *feed.Session, args []string) error {
				id, err := resolvePostID(s, args[0])
				if err != nil {
					return err
				}
				c, err := s.AddComment(ctx, id, strings.Join(args[1:], " "))
				if err != nil {
					return explain("add comment", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "commented %s on %s\n", shortID(c.ID), shortID(id))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete [post-id]",
			Short: "Delete a post written under your role",
			Args:  cobra.ExactArgs(1),
			RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *feed.Session, args []string) error {
				id, err := resolvePostID(s, args[0])
				if err != nil {
					return err
				}
				if err := s.DeletePost(ctx, id); err != nil {
					return explain("delete post", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", shortID(id))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete-comment [post-id] [comment-id]",
			Short: "Delete a comment written under your role",
			Args:  cobra.ExactArgs(2),
			RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *feed.Session, args []string) error {
				id, err := resolvePostID(s, args[0])
				if err != nil {
					return err
				}
				p, _ := s.Post(id)
				cid, err := resolveCommentID(p, args[1])
				if err != nil {
					return err
				}
				if err := s.DeleteComment(ctx, id, cid); err != nil {
					return explain("delete comment", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted comment %s\n", shortID(cid))
				return nil
			}),
		},
		whoamiCmd(),
		&cobra.Command{
			Use:   "roles",
			Short: "Describe every role and its selector",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				renderRoles(cmd.OutOrStdout(), roleSelector())
				return nil
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Show the feed and redraw it on every change",
			Args:  cobra.NoArgs,
			RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *feed.Session, args []string) error {
				changes, cancel := s.Watch()
				defer cancel()
				out := cmd.OutOrStdout()
				if err := s.Err(); err != nil {
					fmt.Fprintf(out, "could not load posts: %v\n", err)
				} else {
					renderFeed(out, s)
				}
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-changes:
						fmt.Fprint(out, "\n--- feed updated ---\n")
						renderFeed(out, s)
					}
				}
			}),
		},
	)
}

func whoamiCmd() *cobra.Command {
	var nickname string
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show, or change with --nickname, the identity you act as",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, cmd *cobra.Command, s *feed.Session, args []string) error {
			id, _ := s.Identity()
			if nickname != "" {
				if err := s.BeginIdentityChange(ctx); err != nil {
					return err
				}
				changed, err := s.ChangeIdentity(ctx, nickname, id.Role)
				if err != nil {
					if _, cerr := s.CancelIdentityChange(ctx); cerr != nil {
						logger.Warn("identity_restore_failed", zap.Error(cerr))
					}
					return err
				}
				id = changed
			}
			info := id.Role.Info()
			fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n", id.Nickname, id.Role, info.Badge)
			return nil
		}),
	}
	cmd.Flags().StringVar(&nickname, "nickname", "", "New nickname (max 50 characters)")
	return cmd
}

func roleSelector() string {
	if roleFlag != "" {
		return roleFlag
	}
	return cfg.Client.Role
}

type sessionFunc func(ctx context.Context, cmd *cobra.Command, s *feed.Session, args []string) error

// withSession opens the feed session a command runs in and tears it down
// afterwards.
func withSession(fn sessionFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, closeAll, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer closeAll()
		return fn(ctx, cmd, s, args)
	}
}

func openSession(ctx context.Context) (*feed.Session, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	stateDB, err := database.Open(cfg.Client.StatePath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening local state: %w", err)
	}
	closers = append(closers, func() { stateDB.Close() })
	state := localstate.New(stateDB)

	gw, stopGateway, err := openGateway()
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, stopGateway)

	opts := feed.SessionOptions{Selector: roleSelector(), Identities: state}
	if cfg.Client.CachePosts {
		opts.Cache = state
	}
	s, err := feed.Open(ctx, gw, opts, logger)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, s.Close)
	return s, closeAll, nil
}

// openGateway returns the remote backend client, or with --embedded an
// in-process gateway over the backend database file.
func openGateway() (gateway.Gateway, func(), error) {
	if !embedded {
		gw, err := gateway.NewRemote(cfg.Client.GatewayURL, cfg.Client.APIKey, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("gateway: %w", err)
		}
		return gw, func() {}, nil
	}

	db, err := database.Open(cfg.Server.DBPath, logger)
	if err != nil {
		return nil, nil, err
	}
	hub := realtime.NewHub(logger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	return gateway.NewLocal(db, hub, logger), func() {
		cancel()
		<-done
		db.Close()
	}, nil
}

func explain(op string, err error) error {
	switch {
	case errors.Is(err, feed.ErrUnauthenticated):
		return errors.New("no identity: pick a role with --role")
	case errors.Is(err, feed.ErrUnauthorized):
		return fmt.Errorf("cannot %s: only the author's role may delete it", op)
	case errors.Is(err, feed.ErrNotFound):
		return fmt.Errorf("cannot %s: it no longer exists", op)
	case errors.Is(err, feed.ErrInvalidContent):
		return fmt.Errorf("cannot %s: %w", op, err)
	case errors.Is(err, feed.ErrRemoteFailure):
		logger.Warn("operation_failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("failed to %s, try again", op)
	}
	return err
}

// resolvePostID accepts a full id or a unique prefix of one.
func resolvePostID(s *feed.Session, ref string) (string, error) {
	if _, ok := s.Post(ref); ok {
		return ref, nil
	}
	var match string
	for _, p := range s.Posts() {
		if strings.HasPrefix(p.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("post id %q is ambiguous", ref)
			}
			match = p.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no post with id %q", ref)
	}
	return match, nil
}

func resolveCommentID(p models.Post, ref string) (string, error) {
	var match string
	for _, c := range p.Comments {
		if c.ID == ref {
			return ref, nil
		}
		if strings.HasPrefix(c.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("comment id %q is ambiguous", ref)
			}
			match = c.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no comment with id %q", ref)
	}
	return match, nil
}

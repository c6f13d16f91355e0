package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	internalApp "github.com/haierkeys/fast-content-sync-service/internal/app"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/eventbus"
	"github.com/haierkeys/fast-content-sync-service/internal/publish"
	"github.com/haierkeys/fast-content-sync-service/internal/task"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"github.com/haierkeys/fast-content-sync-service/pkg/safe_close"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	clientCmd.AddCommand(
		newSaveCmd(),
		newStageCmd(),
		newPublishCmd(),
		newRollbackCmd(),
		newHistoryCmd(),
		newEventsCmd(),
		newGetCmd(),
		newDiffCmd(),
		newStatusCmd(),
		newResyncCmd(),
		newWatchCmd(),
	)
}

func newSaveCmd() *cobra.Command {
	var (
		target  string
		message string
		payload payloadFlags
	)
	cmd := &cobra.Command{
		Use:   "save <domain> [-t target] (--data json | -f file)",
		Short: "Save a new version and make it current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDomainArg(args[0])
			if err != nil {
				return err
			}
			p, err := payload.read(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return clientRun(true, func(ctx context.Context, c *internalApp.Client) error {
				rec, err := c.Save(ctx, d, target, p, message)
				if err != nil {
					return err
				}
				if rec.IsPending() {
					fmt.Fprintln(os.Stderr, "server unreachable, the save is kept locally and will be retried")
				}
				return printJSON(rec)
			})
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "target id (property or image key)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "change description")
	payload.bind(cmd)
	return cmd
}

func newStageCmd() *cobra.Command {
	var (
		target  string
		message string
		list    bool
		drop    bool
		payload payloadFlags
	)
	cmd := &cobra.Command{
		Use:   "stage [<domain> [-t target] (--data json | -f file)]",
		Short: "Stage an edit for the next publish, list or drop staged edits",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list || len(args) == 0 {
				return clientRun(false, func(ctx context.Context, c *internalApp.Client) error {
					edits, err := c.Publisher.Staged(ctx)
					if err != nil {
						return err
					}
					return printJSON(edits)
				})
			}

			d, err := parseDomainArg(args[0])
			if err != nil {
				return err
			}
			if drop {
				return clientRun(false, func(ctx context.Context, c *internalApp.Client) error {
					return c.Publisher.Unstage(ctx, d, target)
				})
			}
			p, err := payload.read(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return clientRun(false, func(ctx context.Context, c *internalApp.Client) error {
				edit, err := c.Publisher.Stage(ctx, d, target, p, message)
				if err != nil {
					return err
				}
				return printJSON(edit)
			})
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "target id")
	cmd.Flags().StringVarP(&message, "message", "m", "", "change description")
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list staged edits")
	cmd.Flags().BoolVar(&drop, "drop", false, "drop the staged edit of the group")
	payload.bind(cmd)
	return cmd
}

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish every staged edit and pending save, domain by domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientRun(true, func(ctx context.Context, c *internalApp.Client) error {
				report, err := c.Publisher.PublishPending(ctx, c.Author)
				if err != nil {
					return err
				}
				if err := printJSON(report); err != nil {
					return err
				}
				if !report.Succeeded() {
					return errors.New("some domains failed to publish")
				}
				return nil
			})
		},
	}
}

func newRollbackCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "rollback <domain> <versionId> [-t target]",
		Short: "Make an earlier version current again, history is kept",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDomainArg(args[0])
			if err != nil {
				return err
			}
			return clientRun(true, func(ctx context.Context, c *internalApp.Client) error {
				rec, err := c.Rollback(ctx, d, target, args[1])
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "target id")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		target   string
		all      bool
		author   string
		since    string
		until    string
		current  bool
		page     int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "history <domain> [-t target | --all] [--author-id id] [--since t] [--until t]",
		Short: "List versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDomainArg(args[0])
			if err != nil {
				return err
			}
			now := time.Now()
			from, err := parseTime(since, now)
			if err != nil {
				return err
			}
			to, err := parseTime(until, now)
			if err != nil {
				return err
			}
			filtered := all || author != "" || !from.IsZero() || !to.IsZero() || current || page > 0 || pageSize > 0

			return clientRun(false, func(ctx context.Context, c *internalApp.Client) error {
				if !filtered {
					// 完整历史，包含本地待同步保存
					list, err := c.Store.GetHistory(ctx, d, target)
					if err != nil {
						return err
					}
					return printJSON(list)
				}

				filter := &domain.VersionFilter{
					Domain:      d,
					AuthorID:    author,
					Since:       from,
					Until:       to,
					CurrentOnly: current,
					Page:        page,
					PageSize:    pageSize,
				}
				if !all {
					filter.TargetID = domain.Target(target)
				}
				list, total, err := c.Store.QueryHistory(ctx, filter)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"list": list, "total": total})
			})
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "target id")
	cmd.Flags().BoolVar(&all, "all", false, "every target of the domain")
	cmd.Flags().StringVar(&author, "author-id", "", "only versions of this author")
	cmd.Flags().StringVar(&since, "since", "", "created at or after (RFC3339, YYYY-MM-DD or a duration such as 24h)")
	cmd.Flags().StringVar(&until, "until", "", "created before")
	cmd.Flags().BoolVar(&current, "current", false, "only current versions")
	cmd.Flags().IntVar(&page, "page", 0, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "page size")
	return cmd
}

func newEventsCmd() *cobra.Command {
	var (
		target   string
		action   string
		since    string
		page     int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "events [domain] [-t target] [--action a]",
		Short: "List the audit log of the server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := &domain.EventFilter{Page: page, PageSize: pageSize}
			if len(args) == 1 {
				d, err := parseDomainArg(args[0])
				if err != nil {
					return err
				}
				filter.Domain = d
			}
			if cmd.Flags().Changed("target") {
				filter.TargetID = domain.Target(target)
			}
			if action != "" {
				a := domain.SyncAction(action)
				if !a.Valid() {
					return errors.Errorf("invalid action %q", action)
				}
				filter.Action = a
			}
			from, err := parseTime(since, time.Now())
			if err != nil {
				return err
			}
			filter.Since = from

			return clientRun(false, func(ctx context.Context, c *internalApp.Client) error {
				list, total, err := c.Store.Events(ctx, filter)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"list": list, "total": total})
			})
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "target id")
	cmd.Flags().StringVar(&action, "action", "", "create, update, delete or rollback")
	cmd.Flags().StringVar(&since, "since", "", "created at or after")
	cmd.Flags().IntVar(&page, "page", 0, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "page size")
	return cmd
}

func newGetCmd() *cobra.Command {
	var (
		target string
		raw    bool
	)
	cmd := &cobra.Command{
		Use:   "get <domain> [-t target]",
		Short: "Print the current payload of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDomainArg(args[0])
			if err != nil {
				return err
			}
			return clientRun(false, func(ctx context.Context, c *internalApp.Client) error {
				p, source, err := c.Store.GetCurrent(ctx, d, target)
				if err != nil {
					return err
				}
				if raw {
					fmt.Println(p.Pretty())
					return nil
				}
				return printJSON(map[string]any{"source": source, "payload": p})
			})
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "target id")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the payload only")
	return cmd
}

func newDiffCmd() *cobra.Command {
	var (
		target string
		patch  bool
	)
	cmd := &cobra.Command{
		Use:   "diff <domain> <fromVersionId> [toVersionId] [-t target]",
		Short: "Compare two versions, the current one when toVersionId is omitted",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDomainArg(args[0])
			if err != nil {
				return err
			}
			to := ""
			if len(args) == 3 {
				to = args[2]
			}
			return clientRun(false, func(ctx context.Context, c *internalApp.Client) error {
				res, err := c.Store.Diff(ctx, d, target, args[1], to)
				if err != nil {
					return err
				}
				if patch {
					fmt.Print(res.Patch)
					return nil
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "target id")
	cmd.Flags().BoolVar(&patch, "patch", false, "print the textual patch only")
	return cmd
}

// clientStatus status 子命令的输出
type clientStatus struct {
	Server       string                 `json:"server"`
	SessionID    string                 `json:"sessionId"`
	Author       domain.Author          `json:"author"`
	Channel      string                 `json:"channel"`
	Domains      []domain.ContentDomain `json:"domains"`
	Availability []publish.Availability `json:"availability"`
	Pending      []*domain.PendingSave  `json:"pending"`
	Mirror       []*domain.MirrorEntry  `json:"mirror,omitempty"`
	Staged       []*domain.StagedEdit   `json:"staged,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var (
		connect bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending saves, staged edits and the connection state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientRun(connect, func(ctx context.Context, c *internalApp.Client) error {
				st := clientStatus{
					Server:    c.Remote.BaseURL(),
					SessionID: c.SessionID,
					Author:    c.Author,
					Channel:   c.Channel.State().String(),
					Domains:   c.Publisher.Domains(),
				}
				var err error
				if st.Availability, err = c.Publisher.CheckPendingAvailability(ctx); err != nil {
					return err
				}
				if st.Pending, err = c.Store.Pending(ctx); err != nil {
					return err
				}
				if verbose {
					if st.Mirror, err = c.Mirror.Entries(ctx); err != nil {
						return err
					}
					if st.Staged, err = c.Publisher.Staged(ctx); err != nil {
						return err
					}
				}
				return printJSON(st)
			})
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "connect to the relay and report the channel state")
	cmd.Flags().BoolVar(&verbose, "all", false, "include mirror entries and staged edits")
	return cmd
}

func newResyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Pull current versions into the mirror and push pending saves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientRun(true, func(ctx context.Context, c *internalApp.Client) error {
				return printJSON(c.Channel.ForceResync(ctx))
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	var includeSelf bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected, keep the mirror current and print every change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient()
			if err != nil {
				return err
			}
			lg := c.Logger()

			out := make(chan eventbus.Message, 64)
			c.Bus.Subscribe("cli-watch", func(_ string, msg eventbus.Message) {
				if msg.Origin == eventbus.OriginSelf && !includeSelf {
					return
				}
				select {
				case out <- msg:
				default:
					lg.Warn("watch output is behind, change dropped", zap.String(logger.FieldEventID, msg.EventID))
				}
			})

			sc := safe_close.NewSafeClose()
			manager := task.NewManager(lg, sc)
			if err := manager.RegisterClientTasks(c); err != nil {
				lg.Error("failed to register tasks", zap.Error(err))
			}
			manager.Start()

			sc.Attach(func(done func(), closeSignal <-chan struct{}) {
				defer done()
				for {
					select {
					case msg := <-out:
						if err := printJSON(msg); err != nil {
							lg.Warn("print change", zap.Error(err))
						}
					case <-closeSignal:
						return
					}
				}
			})

			c.Channel.Connect(context.Background())
			fmt.Fprintf(os.Stderr, "watching %s as %s, press Ctrl+C to stop\n", c.Remote.BaseURL(), c.SessionID)
			waitSignal()

			sc.SendCloseSignal(nil)
			_ = sc.WaitClosed()
			c.Bus.Unsubscribe("cli-watch")

			ctx, cancel := context.WithTimeout(context.Background(), internalApp.DefaultShutdownTimeout)
			defer cancel()
			if err := c.Shutdown(ctx); err != nil {
				lg.Warn("client shutdown", zap.Error(err))
			}
			_ = lg.Sync()
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeSelf, "self", false, "also print changes made by this session")
	return cmd
}

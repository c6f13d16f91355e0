package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	internalApp "github.com/haierkeys/fast-content-sync-service/internal/app"
	"github.com/haierkeys/fast-content-sync-service/internal/dao"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"github.com/haierkeys/fast-content-sync-service/pkg/util"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type clientFlags struct {
	dir     string
	config  string
	server  string
	author  string
	verbose bool
	timeout time.Duration
}

var clientEnv = new(clientFlags)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Work with content through a local mirror of the server",
	Long: `Work with content through a local mirror of the server.

Reads come from the server when reachable and from the local mirror otherwise.
Saves that cannot reach the server are kept as pending saves and retried.`,
}

func init() {
	rootCmd.AddCommand(clientCmd)
	fs := clientCmd.PersistentFlags()
	fs.StringVarP(&clientEnv.dir, "dir", "d", "", "run dir")
	fs.StringVarP(&clientEnv.config, "config", "c", "", "config file")
	fs.StringVar(&clientEnv.server, "server", "", "server url, overrides client.server-url")
	fs.StringVar(&clientEnv.author, "author", "", "author id, overrides client.author.id")
	fs.BoolVarP(&clientEnv.verbose, "verbose", "v", false, "log at the configured level instead of warn")
	fs.DurationVar(&clientEnv.timeout, "timeout", time.Minute, "overall timeout of one-shot commands")
}

// clientRun builds the client container, runs fn and shuts the container down
// clientRun 创建客户端容器，执行 fn 后关闭容器
func clientRun(connect bool, fn func(ctx context.Context, c *internalApp.Client) error) error {
	c, err := openClient()
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Shutdown(ctx); err != nil {
			c.Logger().Warn("client shutdown", zap.Error(err))
		}
		_ = c.Logger().Sync()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), clientEnv.timeout)
	defer cancel()

	if connect {
		c.Channel.Connect(ctx)
		wctx, wcancel := context.WithTimeout(ctx, c.Config().GetRemoteTimeout())
		state := c.WaitConnected(wctx)
		wcancel()
		c.Logger().Info("sync channel", zap.String("state", state.String()))
	}
	return fn(ctx, c)
}

func openClient() (*internalApp.Client, error) {
	changeDir(clientEnv.dir)

	configPath, err := resolveConfig(clientEnv.config)
	if err != nil {
		return nil, err
	}
	cfg, _, err := internalApp.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if clientEnv.server != "" {
		cfg.Client.ServerURL = clientEnv.server
	}
	if clientEnv.author != "" {
		cfg.Client.Author.ID = clientEnv.author
		if cfg.Client.Author.Name == "" {
			cfg.Client.Author.Name = clientEnv.author
		}
	}

	logCfg := cfg.Log.LoggerConfig()
	if !clientEnv.verbose {
		logCfg.Level = "warn"
	}
	logCfg.Production = false
	if logCfg.File != "" {
		logCfg.File = filepath.Join(filepath.Dir(logCfg.File), "client.log")
	}
	lg, err := logger.NewLogger(logCfg)
	if err != nil {
		return nil, err
	}

	db, err := dao.NewDBEngine(cfg.Client.Database, lg)
	if err != nil {
		return nil, err
	}
	c, err := internalApp.NewClient(cfg, lg, db)
	if err != nil {
		_ = dao.Close(db)
		return nil, err
	}
	return c, nil
}

// waitSignal blocks until SIGINT or SIGTERM
// waitSignal 阻塞直到收到 SIGINT 或 SIGTERM
func waitSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	signal.Stop(quit)
}

// printJSON writes v to stdout as indented JSON
// printJSON 以缩进 JSON 输出到 stdout
func printJSON(v any) error {
	raw, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(raw))
	return err
}

// payloadFlags 内容来源：--data 或 --file（- 表示标准输入）
type payloadFlags struct {
	data string
	file string
}

func (p *payloadFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.data, "data", "", "payload as JSON")
	cmd.Flags().StringVarP(&p.file, "file", "f", "", "read the payload from a JSON file, - for stdin")
}

func (p *payloadFlags) read(stdin io.Reader) (domain.Payload, error) {
	var raw []byte
	switch {
	case p.data != "" && p.file != "":
		return nil, errors.New("use either --data or --file")
	case p.data != "":
		raw = []byte(p.data)
	case p.file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, errors.Wrap(err, "read stdin")
		}
		raw = b
	case p.file != "":
		b, err := os.ReadFile(p.file)
		if err != nil {
			return nil, errors.Wrap(err, "read payload file")
		}
		raw = b
	default:
		return nil, errors.New("a payload is required, use --data or --file")
	}
	return domain.ParsePayload(raw)
}

// parseTime accepts RFC3339 timestamps, dates or durations counted back from now
// parseTime 接受 RFC3339 时间、日期或从当前时间倒推的时长（如 24h、7d）
func parseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t, nil
	}
	d, err := util.ParseDuration(s)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid time %q: use RFC3339, YYYY-MM-DD or a duration such as 24h", s)
	}
	return now.Add(-d), nil
}

func parseDomainArg(s string) (domain.ContentDomain, error) {
	d, err := domain.ParseDomain(s)
	if err != nil {
		names := make([]string, 0, 4)
		for _, d := range domain.Domains() {
			names = append(names, string(d))
		}
		return "", fmt.Errorf("%w (one of %s)", err, strings.Join(names, ", "))
	}
	return d, nil
}

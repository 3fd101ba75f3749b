package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"comicvault/cfproxy"
	"comicvault/downloader"
	"comicvault/ledger"
	"comicvault/library"
	"comicvault/parser"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download a title from its listing URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		title, _ := cmd.Flags().GetString("title")
		if url == "" {
			cmd.Usage()
			return errors.New("--url flag is required")
		}

		ctx, cancel := signalContext()
		defer cancel()

		m, stop, err := newManager(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer stop()

		sum, err := m.ProcessTitle(ctx, url, title)
		printTotal(cmd.OutOrStdout(), sum)
		return err
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [titles...]",
	Short: "Check titles in the library for new chapters",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		lib := library.New(cfg.Library.Dir)

		names := args
		if all {
			var err error
			if names, err = lib.Titles(); err != nil {
				return err
			}
		}
		if len(names) == 0 {
			cmd.Usage()
			return errors.New("name at least one title or pass --all")
		}

		ctx, cancel := signalContext()
		defer cancel()

		m, stop, err := newManager(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer stop()

		var total downloader.RunSummary
		for _, name := range names {
			sum, err := m.UpdateTitle(ctx, "", name)
			total.Merge(sum)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", name, err)
				if ctx.Err() != nil {
					break
				}
			}
		}
		printTotal(cmd.OutOrStdout(), total)
		return ctx.Err()
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Regenerate and print the combined download summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := ledger.WriteCombined(cfg.Library.Dir)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <title>",
	Short: "Print a title's error log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		title, err := library.New(cfg.Library.Dir).Open(parser.SanitizeFilename(args[0]))
		if err != nil {
			return err
		}
		path := title.FilePath(library.ErrorFile)

		if !follow {
			data, err := os.ReadFile(path)
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(cmd.OutOrStdout(), "No errors logged for %s\n", title.Name)
				return nil
			}
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		return followLog(ctx, path, cmd.OutOrStdout())
	},
}

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the Cloudflare clearance proxy in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") && cfg.Proxy.Port != 0 {
			port = cfg.Proxy.Port
		}

		proxy := cfproxy.NewProxyServer(proxyConfig(cfg, port))
		if err := proxy.Start(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Proxy listening on %s (Ctrl+C to stop)\n", proxy.Addr())

		ctx, cancel := signalContext()
		defer cancel()
		<-ctx.Done()
		return proxy.Stop()
	},
}

func init() {
	downloadCmd.Flags().String("url", "", "Title listing URL (required)")
	downloadCmd.Flags().String("title", "", "Directory name to use instead of the listing heading")
	updateCmd.Flags().Bool("all", false, "Update every title in the library")
	logsCmd.Flags().BoolP("follow", "f", false, "Keep printing new entries")
	proxyCmd.Flags().Int("port", cfproxy.DefaultPort, "Port to listen on")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// followLog prints path and every line appended to it until ctx is done.
func followLog(ctx context.Context, path string, out io.Writer) error {
	t, err := tail.TailFile(filepath.Clean(path), tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return err
	}
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			fmt.Fprintln(out, line.Text)
		}
	}
}

func printTotal(out io.Writer, sum downloader.RunSummary) {
	fmt.Fprintf(out, "Total download size: %.2f MB\n", float64(sum.TotalBytes())/(1024*1024))
}

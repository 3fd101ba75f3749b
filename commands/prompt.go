package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"comicvault/downloader"
	"comicvault/library"
	"comicvault/scrapeerr"

	"github.com/spf13/cobra"
)

// titleRunner is the part of downloader.Manager the prompt drives.
type titleRunner interface {
	ProcessTitle(ctx context.Context, url, titleOverride string) (downloader.RunSummary, error)
	UpdateTitle(ctx context.Context, url, titleOverride string) (downloader.RunSummary, error)
}

func runPrompt(cmd *cobra.Command) error {
	ctx, cancel := signalContext()
	defer cancel()

	m, stop, err := newManager(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer stop()

	p := &prompt{
		in:  bufio.NewReader(cmd.InOrStdin()),
		out: cmd.OutOrStdout(),
		lib: library.New(cfg.Library.Dir),
		run: m,
	}
	sum, err := p.Run(ctx)
	printTotal(p.out, sum)
	return err
}

type prompt struct {
	in  *bufio.Reader
	out io.Writer
	lib *library.Library
	run titleRunner
}

func (p *prompt) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Run asks for a listing URL or "update" and runs the matching titles.
func (p *prompt) Run(ctx context.Context) (downloader.RunSummary, error) {
	answer, err := p.ask("Enter the manga URL or type 'update' to update existing titles: ")
	if err != nil {
		return downloader.RunSummary{}, err
	}

	switch {
	case strings.EqualFold(answer, "update"):
		return p.update(ctx)
	case answer == "":
		return downloader.RunSummary{}, errors.New("no URL entered")
	default:
		return p.run.ProcessTitle(ctx, answer, "")
	}
}

func (p *prompt) update(ctx context.Context) (downloader.RunSummary, error) {
	var total downloader.RunSummary

	titles, err := p.lib.Titles()
	if err != nil {
		return total, err
	}
	if len(titles) == 0 {
		fmt.Fprintln(p.out, "No titles found.")
		return total, nil
	}

	fmt.Fprintln(p.out, "Available titles:")
	for i, t := range titles {
		fmt.Fprintf(p.out, "%d. %s\n", i+1, t)
	}
	answer, err := p.ask("Enter titles to update, separated by commas, or 'all': ")
	if err != nil {
		return total, err
	}

	selected, unknown := selectTitles(answer, titles)
	for _, name := range unknown {
		fmt.Fprintf(p.out, "Unknown title: %s\n", name)
	}

	for _, name := range selected {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		url, err := p.urlFor(name)
		if err != nil {
			fmt.Fprintf(p.out, "Skipping %s: %v\n", name, err)
			continue
		}
		sum, err := p.run.UpdateTitle(ctx, url, name)
		total.Merge(sum)
		if err != nil {
			fmt.Fprintf(p.out, "Failed to update %s: %v\n", name, err)
		}
	}
	return total, nil
}

// urlFor returns the saved URL of a title, asking for and saving one when missing.
func (p *prompt) urlFor(name string) (string, error) {
	title, err := p.lib.Open(name)
	if err != nil {
		return "", err
	}
	url, err := title.ReadURL()
	if err == nil {
		return url, nil
	}
	if !errors.Is(err, scrapeerr.ErrFileState) {
		return "", err
	}

	url, err = p.ask(fmt.Sprintf("URL for %s not found. Please enter the URL: ", name))
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", errors.New("no URL entered")
	}
	if err := title.SaveURL(url); err != nil {
		return "", err
	}
	return url, nil
}

// selectTitles resolves a comma separated answer against the known titles.
// "all" selects everything.
func selectTitles(answer string, titles []string) (selected, unknown []string) {
	if strings.EqualFold(strings.TrimSpace(answer), "all") {
		return titles, nil
	}

	known := make(map[string]bool, len(titles))
	for _, t := range titles {
		known[t] = true
	}
	seen := map[string]bool{}
	for _, part := range strings.Split(answer, ",") {
		name := strings.TrimSpace(part)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if known[name] {
			selected = append(selected, name)
		} else {
			unknown = append(unknown, name)
		}
	}
	return selected, unknown
}

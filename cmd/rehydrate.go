package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"embedwrap/internal/httputil"
	"embedwrap/internal/rehydrate"
)

var (
	flagFullDocument bool
	flagStats        bool
)

var rehydrateCmd = &cobra.Command{
	Use:   "rehydrate [file]",
	Short: "Rewrite the links of a rendered post",
	Long: `Reads rendered post HTML from file (or stdin) and writes it back with the
links of its content block replaced by inline media.`,
	Args: cobra.MaximumNArgs(1),
	RunE: rehydrateRun,
}

func init() {
	rehydrateCmd.Flags().BoolVar(&flagFullDocument, "document", false, "Write the whole document instead of the body contents")
	rehydrateCmd.Flags().BoolVar(&flagStats, "stats", false, "Print link counts to stderr")
}

func rehydrateRun(cmd *cobra.Command, args []string) error {
	in, err := openInput(args)
	if err != nil {
		return err
	}
	defer in.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(in, httputil.MaxBodySize))
	if err != nil {
		return fmt.Errorf("parsing post: %w", err)
	}

	r, err := newRehydrator()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	body := doc.Find("body")
	pass := r.Rehydrate(ctx, body, pageURL())
	if err := settle(ctx, pass); err != nil {
		debugf("writing before auto-expand settled: %v", err)
	}

	var out string
	pass.Do(func() {
		if flagFullDocument {
			out, err = doc.Html()
		} else {
			out, err = body.Html()
		}
	})
	if err != nil {
		return fmt.Errorf("rendering post: %w", err)
	}

	if _, err := io.WriteString(cmd.OutOrStdout(), out); err != nil {
		return err
	}

	if flagStats {
		st := pass.Stats()
		fmt.Fprintf(cmd.ErrOrStderr(), "blocks=%d links=%d replaced=%d skipped=%d left=%d failed=%d\n",
			st.Blocks, st.Links, st.Replaced, st.Skipped, st.Left, st.Failed)
	}
	return nil
}

// openInput returns the named file, or stdin when no file is given and stdin
// is not a terminal.
func openInput(args []string) (io.ReadCloser, error) {
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("opening post: %w", err)
		}
		return f, nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("no input: pass a file or pipe HTML on stdin")
	}
	return io.NopCloser(os.Stdin), nil
}

// settle waits for the pass's auto-expand attempts, bounded by the configured
// delay plus a second.
func settle(ctx context.Context, pass *rehydrate.Pass) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.ExpandDelay+time.Second)
	defer cancel()
	return pass.Wait(ctx)
}

// debugf logs a message if debug mode is enabled.
func debugf(format string, args ...any) {
	if cfg != nil && cfg.Debug {
		logger.Debug(fmt.Sprintf(format, args...))
	}
}

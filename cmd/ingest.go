package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"capturekit/config"
	"capturekit/core"
	"capturekit/logger"
	"capturekit/models"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var ingestConcurrency int

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Loads captured data from JSON files",
}

var ingestCommentsCmd = &cobra.Command{
	Use:   "comments <file...>",
	Short: "Ingests raw comment trees (a JSON array of top-level comments per file)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reports, err := ingestFiles(cmd.Context(), args, concurrency(cmd), func(ctx context.Context, f *os.File) (fileReport, error) {
			return ingestCommentFile(ctx, services.Comments, f)
		})
		printReports(cmd.OutOrStdout(), reports)
		return err
	},
}

var ingestExchangesCmd = &cobra.Command{
	Use:   "exchanges <file...>",
	Short: "Processes captured exchanges (a JSON array or one JSON object per line)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reports, err := ingestFiles(cmd.Context(), args, concurrency(cmd), func(ctx context.Context, f *os.File) (fileReport, error) {
			return ingestExchangeFile(ctx, services.Pipeline, f)
		})
		printReports(cmd.OutOrStdout(), reports)
		return err
	},
}

type exchangeProcessor interface {
	Process(ctx context.Context, ex models.CapturedExchange) models.ProcessingSummary
}

type commentIngester interface {
	Ingest(ctx context.Context, trees []models.RawCommentNode) models.CommentIngestResult
}

// fileReport is one row of the ingest summary.
type fileReport struct {
	File    string
	Items   int
	Saved   int
	Skipped int
	Failed  int
	Err     error
}

func concurrency(cmd *cobra.Command) int {
	if cmd.Flags().Changed("concurrency") && ingestConcurrency > 0 {
		return ingestConcurrency
	}
	return config.AppConfig.Ingest.Concurrency
}

// ingestFiles runs fn over every file with at most limit files open at
// once. A failing file does not stop the others; the first error is
// returned after all files are done.
func ingestFiles(ctx context.Context, files []string, limit int, fn func(context.Context, *os.File) (fileReport, error)) ([]fileReport, error) {
	if len(files) == 0 {
		return nil, errNoFiles
	}
	if limit <= 0 {
		limit = 1
	}
	reports := make([]fileReport, len(files))
	var (
		mu       sync.Mutex
		firstErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			report, err := ingestOne(gctx, path, fn)
			report.File = path
			report.Err = err
			reports[i] = report
			if err != nil {
				logger.Error("Ingest: %s: %v", path, err)
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", path, err)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return reports, firstErr
}

func ingestOne(ctx context.Context, path string, fn func(context.Context, *os.File) (fileReport, error)) (fileReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileReport{}, err
	}
	defer f.Close()
	return fn(ctx, f)
}

func ingestCommentFile(ctx context.Context, comments commentIngester, r io.Reader) (fileReport, error) {
	var trees []models.RawCommentNode
	if err := json.NewDecoder(r).Decode(&trees); err != nil {
		return fileReport{}, fmt.Errorf("decoding comment trees: %w", err)
	}
	res := comments.Ingest(ctx, trees)
	return fileReport{
		Items:   len(trees),
		Saved:   res.Inserted + res.Updated,
		Skipped: res.Skipped,
		Failed:  res.Structured.Failed,
	}, nil
}

func ingestExchangeFile(ctx context.Context, pipeline exchangeProcessor, r io.Reader) (fileReport, error) {
	exchanges, err := readExchanges(r)
	if err != nil {
		return fileReport{}, err
	}
	var report fileReport
	for _, ex := range exchanges {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Items++
		summary := pipeline.Process(ctx, ex)
		switch {
		case summary.Success:
			report.Saved += summary.ItemsSaved
		case summary.Retryable:
			report.Failed++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

// readExchanges accepts either a JSON array of exchanges or newline
// delimited JSON objects. Blank lines are ignored.
func readExchanges(r io.Reader) ([]models.CapturedExchange, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if first == '[' {
		var out []models.CapturedExchange
		if err := json.NewDecoder(br).Decode(&out); err != nil {
			return nil, fmt.Errorf("decoding exchange array: %w", err)
		}
		return out, nil
	}

	var out []models.CapturedExchange
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var ex models.CapturedExchange
		if err := json.Unmarshal(raw, &ex); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, ex)
	}
	return out, scanner.Err()
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func printReports(w io.Writer, reports []fileReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tITEMS\tSAVED\tSKIPPED\tFAILED\tSTATUS")
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	for _, r := range reports {
		status := ok("ok")
		if r.Err != nil {
			status = bad(r.Err.Error())
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", r.File, r.Items, r.Saved, r.Skipped, r.Failed, status)
	}
	tw.Flush()
}

func init() {
	ingestCmd.PersistentFlags().IntVarP(&ingestConcurrency, "concurrency", "c", 0, "files processed in parallel (overrides ingest.concurrency)")
	ingestCmd.AddCommand(ingestCommentsCmd)
	ingestCmd.AddCommand(ingestExchangesCmd)
	rootCmd.AddCommand(ingestCmd)
}

var (
	_ exchangeProcessor = (*core.Pipeline)(nil)
	_ commentIngester   = (*core.CommentService)(nil)
)

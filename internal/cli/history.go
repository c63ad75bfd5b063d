package cli

import (
	"fmt"
	"io"

	"github.com/studiowebux/surge/internal/report"
	"github.com/studiowebux/surge/internal/stresstest"
)

// HistoryOptions selects the history database and output
type HistoryOptions struct {
	DBPath       string
	OutputFormat string
	Limit        int
	Stdout       io.Writer
}

func openHistory(opts HistoryOptions) (*stresstest.Manager, error) {
	mgr, err := stresstest.NewManager(opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return mgr, nil
}

// ListRuns prints the saved runs, newest first
func ListRuns(opts HistoryOptions) error {
	mgr, err := openHistory(opts)
	if err != nil {
		return err
	}
	defer mgr.Close()

	runs, err := mgr.ListRuns(opts.Limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	return report.RenderHistory(opts.Stdout, runs, opts.OutputFormat)
}

// ShowRun prints the stored report of one run
func ShowRun(opts HistoryOptions, id string) error {
	mgr, err := openHistory(opts)
	if err != nil {
		return err
	}
	defer mgr.Close()

	rep, err := mgr.GetRun(id)
	if err != nil {
		return err
	}
	return report.Render(opts.Stdout, rep, opts.OutputFormat)
}

// DeleteRun removes one run from the history
func DeleteRun(opts HistoryOptions, id string) error {
	mgr, err := openHistory(opts)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.DeleteRun(id); err != nil {
		return err
	}
	fmt.Fprintf(opts.Stdout, "Deleted run %s\n", id)
	return nil
}

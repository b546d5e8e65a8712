package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/datalens-dev/datalens/pkg/analysis"
	"github.com/datalens-dev/datalens/pkg/config"
	"github.com/datalens-dev/datalens/pkg/dataset"
)

var chatCmd = &cobra.Command{
	Use:   "chat <dataset.csv|dataset.xlsx>",
	Short: "Analyze a dataset in an interactive terminal session",
	Long: `chat opens an in-process analysis session on the given dataset and
reads questions from the terminal. Besides free-form questions, a few
commands are available:

  :snapshot <name>   capture the current state
  :snapshots         list snapshots
  :restore <id>      rewind to a snapshot
  :steps             show the applied steps
  :reset             discard all steps, back to the dataset as loaded
  :quit              exit`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	// The REPL keeps everything local.
	cfg.Snapshots.Backend = "memory"
	if err := cfg.Validate(); err != nil {
		return err
	}

	frame, err := loadDatasetFile(args[0], dataset.Limits{
		MaxRows: cfg.Dataset.MaxRows,
		MaxCols: cfg.Dataset.MaxCols,
	})
	if err != nil {
		return err
	}

	manager, err := buildManager(cfg, logger)
	if err != nil {
		return err
	}
	defer manager.Close()

	sess := manager.Create(analysis.CreateOptions{CreatorID: os.Getenv("USER")})
	if err := sess.LoadDataset(frame, filepath.Base(args[0])); err != nil {
		return err
	}

	desc, err := sess.Describe()
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %s: %d rows, %d columns. Ask away (:quit to exit).\n",
		filepath.Base(args[0]), desc.Rows, len(desc.Columns))

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	ctx := cmd.Context()
	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, ":") {
			if quit := runCommand(ctx, sess, input); quit {
				return nil
			}
			continue
		}

		result, err := sess.Chat(ctx, input)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		for _, step := range result.Steps {
			fmt.Printf("  [%d] %s %v\n", step.Ordinal, step.Type, step.Summary)
		}
		fmt.Println(result.Message)
	}
}

func runCommand(ctx context.Context, sess *analysis.Session, input string) (quit bool) {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case ":quit", ":q", ":exit":
		return true

	case ":snapshot":
		if arg == "" {
			fmt.Println("usage: :snapshot <name>")
			return false
		}
		snap, err := sess.Snapshot(ctx, arg)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		fmt.Printf("snapshot %q created (%s)\n", snap.Name, snap.ID)

	case ":snapshots":
		snaps, err := sess.Snapshots(ctx)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		if len(snaps) == 0 {
			fmt.Println("no snapshots yet")
			return false
		}
		current := sess.CurrentSnapshotID()
		for _, snap := range snaps {
			marker := " "
			if snap.ID == current {
				marker = "*"
			}
			fmt.Printf("%s %s  %q  %d steps\n", marker, snap.ID, snap.Name, len(snap.Steps))
		}

	case ":restore":
		if arg == "" {
			fmt.Println("usage: :restore <id>")
			return false
		}
		snap, err := sess.Restore(ctx, arg)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		fmt.Printf("restored to %q: %d steps\n", snap.Name, len(snap.Steps))

	case ":steps":
		steps := sess.Steps()
		if len(steps) == 0 {
			fmt.Println("no steps applied")
			return false
		}
		for _, step := range steps {
			fmt.Printf("[%d] %s %v\n", step.Ordinal, step.Type, step.Params)
		}

	case ":reset":
		if err := sess.ResetToOriginal(); err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		fmt.Println("reset to the dataset as loaded")

	default:
		fmt.Printf("unknown command %s\n", cmd)
	}
	return false
}

func loadDatasetFile(path string, limits dataset.Limits) (*dataset.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return dataset.ParseXLSX(f, limits)
	case ".csv":
		return dataset.ParseCSV(f, limits)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

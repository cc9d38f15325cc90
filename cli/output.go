package cli

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"

	"tasksync/domain"
)

func printTasks(w io.Writer, format string, tasks []domain.Task) error {
	if format == "json" {
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return writeJSON(w, tasks)
	}
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(w, "no tasks")
		return err
	}
	for _, t := range tasks {
		if err := printTaskLine(w, t); err != nil {
			return err
		}
	}
	return nil
}

func printTask(w io.Writer, format string, t domain.Task) error {
	if format == "json" {
		return writeJSON(w, t)
	}
	return printTaskLine(w, t)
}

func printTaskLine(w io.Writer, t domain.Task) error {
	mark := " "
	if t.Completed {
		mark = "x"
	}
	label := t.Label
	if label == "" {
		label = domain.DefaultLabel
	}
	_, err := fmt.Fprintf(w, "[%s] %-12s %s (%s)\n", mark, t.ID, t.Title, label)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := sonic.ConfigStd.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

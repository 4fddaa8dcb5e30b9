package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Gracecr/sacred/internal/state"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const (
	replPrompt         = "sacred> "
	replContinuePrompt = "   ...> "
)

func runQueryREPL(cmd *cobra.Command, store *state.Store, opts *QueryOptions) error {
	ctx := cmd.Context()
	cfg := getConfig()

	historyFile := filepath.Join(historyDir(cfg), ".sacred_query_history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    newTableCompleter(ctx, store),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	target := cfg.StatePath
	if store.Dialect() == state.DialectPostgres {
		target = "postgres"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sacred query REPL (store: %s)\n", target)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(cmd.OutOrStdout())

	repl := &queryREPL{
		store:  store,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
		format: opts.Format,
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			repl.buf.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}

		done, more := repl.feed(ctx, line)
		if done {
			return nil
		}
		if more {
			rl.SetPrompt(replContinuePrompt)
		} else {
			rl.SetPrompt(replPrompt)
		}
	}
}

// queryREPL holds the state of one interactive session. SQL is buffered
// across lines until a terminating semicolon.
type queryREPL struct {
	store  *state.Store
	out    io.Writer
	errOut io.Writer
	format string
	buf    strings.Builder
}

// feed processes one input line. done reports a quit command; more reports
// an unterminated statement.
func (q *queryREPL) feed(ctx context.Context, line string) (done, more bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, q.buf.Len() > 0
	}

	if q.buf.Len() == 0 && strings.HasPrefix(line, ".") {
		return q.dotCommand(ctx, line), false
	}

	q.buf.WriteString(line)
	if !strings.HasSuffix(line, ";") {
		q.buf.WriteString(" ")
		return false, true
	}

	query := strings.TrimSuffix(q.buf.String(), ";")
	q.buf.Reset()

	if err := executeAndRenderQuery(ctx, q.out, q.store.DB(), query, q.format); err != nil {
		_, _ = fmt.Fprintf(q.errOut, "Error: %v\n", err)
	}
	_, _ = fmt.Fprintln(q.out)
	return false, false
}

// dotCommand runs a REPL command and reports whether the session ends.
func (q *queryREPL) dotCommand(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(q.out)

	case ".tables":
		if err := listTablesFromDB(ctx, q.out, q.store.DB(), q.store.Dialect(), q.format); err != nil {
			_, _ = fmt.Fprintf(q.errOut, "Error: %v\n", err)
		}

	case ".schema":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(q.errOut, "Usage: .schema <table>")
			return false
		}
		if err := showSchemaFromDB(ctx, q.out, q.store.DB(), q.store.Dialect(), parts[1], q.format); err != nil {
			_, _ = fmt.Fprintf(q.errOut, "Error: %v\n", err)
		}

	case ".format":
		if len(parts) < 2 {
			_, _ = fmt.Fprintf(q.out, "format: %s\n", q.format)
			return false
		}
		q.format = parts[1]

	case ".clear":
		_, _ = fmt.Fprint(q.out, "\033[H\033[2J")

	default:
		_, _ = fmt.Fprintf(q.errOut, "Unknown command: %s (type .help for commands)\n", command)
	}
	return false
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help             Show this help message
  .tables           List all tables and views
  .schema <name>    Show schema for a table or view
  .format [format]  Show or set the output format (table, json, csv, md)
  .clear            Clear the screen
  .quit / .exit     Exit the REPL

Tips:
  - SQL statements must end with a semicolon (;)
  - Use arrow keys to navigate history
  - Tab completion works for table names
`
	_, _ = fmt.Fprintln(w, help)
}

// newTableCompleter creates a readline completer for table names and
// dot-commands.
func newTableCompleter(ctx context.Context, store *state.Store) *readline.PrefixCompleter {
	names, _ := tableNames(ctx, store.DB(), store.Dialect())

	items := make([]readline.PrefixCompleterInterface, 0, len(names)+7)
	for _, name := range names {
		items = append(items, readline.PcItem(name))
	}
	items = append(items,
		readline.PcItem(".help"),
		readline.PcItem(".tables"),
		readline.PcItem(".schema", readline.PcItemDynamic(func(string) []string { return names })),
		readline.PcItem(".format", readline.PcItem("table"), readline.PcItem("json"), readline.PcItem("csv"), readline.PcItem("md")),
		readline.PcItem(".clear"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)

	return readline.NewPrefixCompleter(items...)
}

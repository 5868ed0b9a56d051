package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/harun/forge/pkg/memory"
	"github.com/spf13/cobra"
)

var (
	searchProject  string
	searchK        int
	searchCodeOnly bool
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search <dir> <query>",
	Short: "Embed a project and search its memory",
	Long: `Embed a project directory, then search it for the chunks most similar
to the query. By default the code, prompts and structure collections are
searched together; --code-only restricts the search to code.`,
	Args: cobra.ExactArgs(2),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchProject, "project", "p", "", "project id (default is the directory name)")
	searchCmd.Flags().IntVarP(&searchK, "limit", "k", 5, "number of results")
	searchCmd.Flags().BoolVar(&searchCodeOnly, "code-only", false, "search only the code collection")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchK <= 0 {
		return fmt.Errorf("k must be positive, got %d", searchK)
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	dir, query := args[0], args[1]
	projectID, err := projectIDFor(searchProject, dir)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if _, err := rt.ingester.EmbedProject(ctx, projectID, dir); err != nil {
		return err
	}

	var results []memory.SearchResult
	if searchCodeOnly {
		results, err = rt.store.SearchCode(ctx, projectID, query, searchK)
	} else {
		results, err = rt.store.SearchProject(ctx, projectID, query, searchK)
	}
	if err != nil {
		return err
	}

	if searchJSON {
		return printJSON(cmd, results)
	}
	return printResults(cmd.OutOrStdout(), results)
}

func printResults(out io.Writer, results []memory.SearchResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(out, "No results")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIMILARITY\tKIND\tSOURCE\tPREVIEW")
	for _, r := range results {
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n", r.Similarity, r.Kind, source(r.Chunk), preview(r.Chunk.Content, 60))
	}
	return w.Flush()
}

func source(c memory.Chunk) string {
	switch {
	case c.Metadata.Filename != "":
		return fmt.Sprintf("%s:%d-%d", c.Metadata.Filename, c.Metadata.LineStart, c.Metadata.LineEnd)
	case c.Metadata.SessionID != "":
		return fmt.Sprintf("%s#%d", c.Metadata.SessionID, c.Metadata.Turn)
	default:
		return "-"
	}
}

// preview returns the first non-blank line of content, cut to max runes.
func preview(content string, max int) string {
	line := ""
	for _, l := range strings.Split(content, "\n") {
		if strings.TrimSpace(l) != "" {
			line = strings.TrimSpace(l)
			break
		}
	}
	r := []rune(line)
	if len(r) > max {
		return string(r[:max]) + "..."
	}
	return line
}

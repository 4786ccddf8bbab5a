package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	_ "modernc.org/sqlite"
)

var historyCompact = `SELECT id, created_at, game_id,
	printf('%.4f', peak_multiplier) AS peak,
	tick_count,
	length(payload) AS bytes
FROM game_history ORDER BY id DESC LIMIT ?`

var collectionsCompact = `SELECT id, created_at, game_id, reason
FROM collections ORDER BY id DESC LIMIT ?`

func main() {
	n := flag.Int("n", 10, "number of recent rows to display")
	table := flag.String("table", "all", "which table to inspect: games, collections, or all")
	verbose := flag.Bool("v", false, "show all columns (raw schema)")
	dbPath := flag.String("db", "data/history.db", "path to history store")
	flag.Parse()

	if *table != "games" && *table != "collections" && *table != "all" {
		fmt.Fprintf(os.Stderr, "unknown table %q (use games, collections, or all)\n", *table)
		os.Exit(1)
	}

	switch *table {
	case "games", "all":
		if *verbose {
			printRaw("Game History", *dbPath, "game_history", *n)
		} else {
			printCompact("Game History", *dbPath, "game_history", historyCompact, *n)
		}
	}
	if *table == "all" {
		fmt.Println()
	}
	switch *table {
	case "collections", "all":
		if *verbose {
			printRaw("Collections", *dbPath, "collections", *n)
		} else {
			printCompact("Collections", *dbPath, "collections", collectionsCompact, *n)
		}
	}
}

func printCompact(title, dbPath, table, query string, n int) {
	fmt.Printf("=== %s ===\n", title)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		fmt.Printf("  (cannot open %s: %v)\n", dbPath, err)
		return
	}
	defer db.Close()

	count := 0
	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		fmt.Printf("  (cannot count rows: %v)\n", err)
		return
	}
	if count == 0 {
		fmt.Println("(no data)")
		return
	}

	fmt.Printf("Rows: %d  |  Showing last %d:\n", count, min(n, count))
	printQuery(db, query, n)
}

func printRaw(title, dbPath, table string, n int) {
	fmt.Printf("=== %s (verbose) ===\n", title)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		fmt.Printf("  (cannot open %s: %v)\n", dbPath, err)
		return
	}
	defer db.Close()

	cols, err := schemaColumns(db, table)
	if err != nil {
		fmt.Printf("  (cannot read schema: %v)\n", err)
		return
	}
	fmt.Printf("Schema: %s\n\n", strings.Join(cols, ", "))

	count := 0
	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		fmt.Printf("  (cannot count rows: %v)\n", err)
		return
	}
	if count == 0 {
		fmt.Println("(no data)")
		return
	}

	fmt.Printf("Rows: %d  |  Showing last %d:\n", count, min(n, count))
	printQuery(db, fmt.Sprintf("SELECT * FROM %s ORDER BY id DESC LIMIT ?", table), n)
}

func printQuery(db *sql.DB, query string, n int) {
	rows, err := db.Query(query, n)
	if err != nil {
		fmt.Printf("  (query error: %v)\n", err)
		return
	}
	defer rows.Close()

	colNames, _ := rows.Columns()
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(colNames, "\t"))
	fmt.Fprintln(w, strings.Repeat("----\t", len(colNames)))

	vals := make([]any, len(colNames))
	ptrs := make([]any, len(colNames))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	var rowBuf [][]string
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			fmt.Fprintf(os.Stderr, "  scan error: %v\n", err)
			continue
		}
		cells := make([]string, len(colNames))
		for i, v := range vals {
			cells[i] = fmtCell(v)
		}
		rowBuf = append(rowBuf, cells)
	}

	for i := len(rowBuf) - 1; i >= 0; i-- {
		fmt.Fprintln(w, strings.Join(rowBuf[i], "\t"))
	}
	w.Flush()
}

func schemaColumns(db *sql.DB, table string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, fmt.Sprintf("%s %s", name, ctype))
	}
	return cols, nil
}

func fmtCell(v any) string {
	if v == nil {
		return "-"
	}
	switch x := v.(type) {
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%.5f", x)
	case int64:
		return fmt.Sprintf("%d", x)
	case []byte:
		if len(x) > 48 {
			return fmt.Sprintf("(%d bytes)", len(x))
		}
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprintf("%v", v)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

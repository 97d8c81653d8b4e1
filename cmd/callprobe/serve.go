package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fllarpy/callprobe"
	sqlinstrumentation "github.com/fllarpy/callprobe/instrumentation/sql"
	"github.com/fllarpy/callprobe/profiling"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve sample endpoints with the probe installed",
	Long: `Starts an HTTP server whose handlers are recorded by the probe. The
stored call trees are served under http.report_path.

Endpoints:
  /            fast handler
  /db          one SQL query
  /slow        handler above the log threshold
  /n-plus-one  the same query issued ten times
  /error       always answers 500`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	probe, err := callprobe.NewProbe(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize call probe: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = probe.Shutdown(shutdownCtx)
	}()

	db, err := sqlinstrumentation.Open("sqlite3", "file:callprobe?cache=shared&mode=memory")
	if err != nil {
		return fmt.Errorf("failed to open instrumented db connection: %w", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY, name TEXT);
		INSERT OR IGNORE INTO users (id, name) VALUES (1, 'John Doe')`); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", helloHandler)
	mux.HandleFunc("/db", dbHandler(db))
	mux.HandleFunc("/slow", slowHandler)
	mux.HandleFunc("/n-plus-one", nPlusOneHandler(db))
	mux.HandleFunc("/error", erroringHandler)

	root := http.NewServeMux()
	reports := probe.ReportHandler()
	root.Handle(cfg.HTTP.ReportPath, reports)
	root.Handle(cfg.HTTP.ReportPath+"/", reports)
	root.Handle("/", probe.Middleware(mux))

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: root, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", cfg.HTTP.Addr).
		Str("reports", cfg.HTTP.ReportPath).
		Msg("starting server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("could not start server: %w", err)
	}
	return nil
}

func helloHandler(w http.ResponseWriter, r *http.Request) {
	defer profiling.EnterFunc(r.Context()).Exit("")
	time.Sleep(50 * time.Millisecond)
	fmt.Fprintln(w, "Hello from the call probe!")
}

func slowHandler(w http.ResponseWriter, r *http.Request) {
	defer profiling.EnterFunc(r.Context()).Exit("")
	render(r.Context(), 600*time.Millisecond)
	fmt.Fprintln(w, "This was a slow request.")
}

func render(ctx context.Context, d time.Duration) {
	defer profiling.EnterFunc(ctx).Exit("")
	time.Sleep(d)
}

func erroringHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprintln(w, "This endpoint always returns an error.")
}

func dbHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		defer profiling.Enter(ctx, "main.loadUser").Exit("")
		var name string
		if err := db.QueryRowContext(ctx, "SELECT name FROM users WHERE id = ?", 1).Scan(&name); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "User name from DB: %s\n", name)
	}
}

func nPlusOneHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		defer profiling.Enter(ctx, "main.loadUsers").Exit("")
		for i := 0; i < 10; i++ {
			var name string
			_ = db.QueryRowContext(ctx, "SELECT name FROM users WHERE id = ?", 1).Scan(&name)
		}
		fmt.Fprintln(w, "Executed 10 identical queries.")
	}
}

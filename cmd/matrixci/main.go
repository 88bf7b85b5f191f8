package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"matrixci/internal/runner"
	"matrixci/internal/server"
	"matrixci/internal/store"
	"matrixci/internal/trigger"
	"matrixci/internal/workflow"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  matrixci validate <workflow.yaml>")
	fmt.Println("  matrixci plan <workflow.yaml>")
	fmt.Println("  matrixci run [-event name] [-db path] [-logs dir] <workflow.yaml>")
	fmt.Println("  matrixci history [-db path] [-limit n]")
	fmt.Println("  matrixci verify [-db path] <run-id>")
	fmt.Println("  matrixci serve [-addr :8080] [-db path] [-logs dir] [workflow.yaml ...]")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "validate":
		cmdValidate(os.Args[2:])
	case "plan":
		cmdPlan(os.Args[2:])
	case "run":
		cmdRun(os.Args[2:])
	case "history":
		cmdHistory(os.Args[2:])
	case "verify":
		cmdVerify(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	default:
		fmt.Println("Unknown command:", os.Args[1])
		usage()
	}
}

// parseCommand parses flags that may appear before or after a leading
// positional argument, so "run ci.yaml -event push" works as well as
// "run -event push ci.yaml". The stdlib flag package stops at the first
// non-flag argument, which would otherwise ignore trailing flags.
func parseCommand(fs *flag.FlagSet, args []string) []string {
	var positional []string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		positional = append(positional, args[0])
		args = args[1:]
	}
	_ = fs.Parse(args)
	return append(positional, fs.Args()...)
}

func loadWorkflow(path string) *workflow.Workflow {
	wf, err := workflow.Load(path)
	if err != nil {
		fmt.Printf("Failed to load workflow: %v\n", err)
		os.Exit(1)
	}
	if err := wf.Validate(); err != nil {
		fmt.Printf("Invalid workflow: %v\n", err)
		os.Exit(1)
	}
	return wf
}

func cmdValidate(args []string) {
	if len(args) != 1 {
		usage()
	}
	wf := loadWorkflow(args[0])

	instances := 0
	for _, job := range wf.Jobs {
		instances += len(job.Strategy.Combinations())
	}
	fmt.Printf("Workflow %q is valid: %d job(s), %d instance(s)\n", wf.Name, len(wf.Jobs), instances)
}

func cmdPlan(args []string) {
	if len(args) != 1 {
		usage()
	}
	wf := loadWorkflow(args[0])

	for _, job := range wf.Jobs {
		combos := job.Strategy.Combinations()
		fmt.Printf("Job %s: %d instance(s)", job.Name, len(combos))
		if job.Strategy.FailFastEnabled() {
			fmt.Print(" [fail-fast]")
		}
		fmt.Println()
		for i, c := range combos {
			fmt.Printf("  %2d. %s\n", i+1, c)
		}
	}
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	event := fs.String("event", workflow.EventWorkflowDispatch, "trigger event to fire")
	dbPath := fs.String("db", "./matrixci.db", "run history database")
	logsDir := fs.String("logs", "./logs", "step log directory")
	rest := parseCommand(fs, args)
	if len(rest) != 1 {
		usage()
	}
	wf := loadWorkflow(rest[0])

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Printf("Failed to open history: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	r := runner.New(runner.Options{Logs: store.NewLogStorage(*logsDir)})
	dispatcher := trigger.NewDispatcher(r, st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := dispatcher.Fire(ctx, wf, *event)
	if err != nil {
		fmt.Printf("Run failed: %v\n", err)
		os.Exit(1)
	}
	if !res.Succeeded() {
		os.Exit(1)
	}
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dbPath := fs.String("db", "./matrixci.db", "run history database")
	limit := fs.Int("limit", 20, "max runs to show")
	_ = fs.Parse(args)

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Printf("Failed to open history: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	records, err := st.ListRuns(*limit)
	if err != nil {
		fmt.Printf("Failed to list runs: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("No runs recorded yet")
		return
	}
	for _, rec := range records {
		fmt.Printf("%s  %-9s  %s (event: %s, started %s)\n",
			rec.ID, rec.Status, rec.Workflow, rec.Event, rec.StartedAt.Format("2006-01-02 15:04:05"))
	}
}

func cmdVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dbPath := fs.String("db", "./matrixci.db", "run history database")
	rest := parseCommand(fs, args)
	if len(rest) != 1 {
		usage()
	}
	runID := rest[0]

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Printf("Failed to open history: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.VerifyRun(runID); err != nil {
		fmt.Printf("Verification FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Run %s: all step logs match their recorded digests\n", runID)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "listen address (defaults to :$PORT or :8080)")
	dbPath := fs.String("db", "./matrixci.db", "run history database")
	logsDir := fs.String("logs", "./logs", "step log directory")
	_ = fs.Parse(args)

	if *addr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		*addr = ":" + port
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Printf("Failed to open history: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	r := runner.New(runner.Options{Logs: store.NewLogStorage(*logsDir)})
	dispatcher := trigger.NewDispatcher(r, st)

	// Workflow files passed on the command line get their cron schedules
	// registered for the lifetime of the server.
	scheduler := trigger.NewScheduler(dispatcher, os.Stdout)
	for _, path := range fs.Args() {
		wf := loadWorkflow(path)
		if err := scheduler.Add(wf); err != nil {
			fmt.Printf("Failed to register schedules for %s: %v\n", path, err)
			os.Exit(1)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(dispatcher, st)
	fmt.Printf("matrixci serving on %s (%d schedule(s) registered)\n", *addr, scheduler.Entries())
	if err := http.ListenAndServe(*addr, srv.Router()); err != nil {
		fmt.Printf("Server stopped: %v\n", err)
		os.Exit(1)
	}
}

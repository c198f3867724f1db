package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/audit"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/config"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/db"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/directory/rustdesk"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/models"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/reconcile"
)

const usage = `usage: rustdesk-cleaner <command> [flags]

Commands:
  view      list devices matching the filters, mutate nothing
  disable   disable matching devices
  enable    re-enable matching devices
  delete    disable and delete matching devices (the RustDesk API requires
            a device to be disabled before it accepts deletion)
  assign    set an attribute on matching devices (-assign-to type=value)
  history   show past runs recorded in the local audit database

Run "rustdesk-cleaner <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	fs := flag.NewFlagSet("rustdesk-cleaner "+command, flag.ExitOnError)
	var (
		configPath = fs.String("config", "", "path to YAML config file (optional)")
		apiURL     = fs.String("url", "", "RustDesk API base URL")
		apiToken   = fs.String("token", "", "bearer token for the API")

		offlineDays = fs.Int("offline-days", 0, "target devices offline for at least this many days")
		noGroup     = fs.Bool("no-group", false, "target devices with no device group")
		allDevices  = fs.Bool("all", false, "ignore eligibility rules, target every matched device")

		dryRun   = fs.Bool("dry-run", false, "simulate only, mutate nothing")
		noDryRun = fs.Bool("no-dry-run", false, "force execution even if dry_run is set in the config")
		yes      = fs.Bool("yes", false, "confirm operations on multiple devices without prompting (required for cron)")
		onlyDis  = fs.Bool("only-disable", false, "delete workflow: disable devices but skip the deletion step")
		workers  = fs.Int("workers", 0, "concurrent device pipelines (default sequential)")

		filterID     = fs.String("id", "", "filter: device ID")
		deviceName   = fs.String("device-name", "", "filter: device name")
		userName     = fs.String("user-name", "", "filter: user name")
		groupName    = fs.String("group-name", "", "filter: user group name")
		deviceGroup  = fs.String("device-group-name", "", "filter: device group name")
		assignTo     = fs.String("assign-to", "", "assign command: <type>=<value>, e.g. device_group_name=workshop")
		logFile      = fs.String("log-file", "", "path to the action log file")
		auditPath    = fs.String("audit-db", "", "path to the run-history database")
		historyLimit = fs.Int("limit", 20, "history command: number of runs to show")
		jsonOut      = fs.Bool("json", false, "history command: machine-readable output")
	)
	fs.Parse(os.Args[2:])

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Flags win over config file and environment.
	if explicit["url"] {
		cfg.API.URL = *apiURL
	}
	if explicit["token"] {
		cfg.API.Token = *apiToken
	}
	if explicit["offline-days"] {
		cfg.Policy.OfflineDays = *offlineDays
	}
	if explicit["no-group"] {
		cfg.Policy.NoGroup = *noGroup
	}
	if explicit["dry-run"] {
		cfg.Run.DryRun = *dryRun
	}
	if *noDryRun {
		cfg.Run.DryRun = false
	}
	if explicit["yes"] {
		cfg.Run.AutoConfirm = *yes
	}
	if explicit["only-disable"] {
		cfg.Run.OnlyDisable = *onlyDis
	}
	if explicit["workers"] {
		cfg.Run.Workers = *workers
	}
	if explicit["log-file"] {
		cfg.Run.LogFile = *logFile
	}
	if explicit["audit-db"] {
		cfg.Audit.Path = *auditPath
	}

	log.SetFlags(log.Ldate | log.Ltime)
	if cfg.Run.LogFile != "" {
		f, err := os.OpenFile(cfg.Run.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if command == "history" {
		if err := runHistory(cfg, *historyLimit, *jsonOut); err != nil {
			log.Fatalf("history: %v", err)
		}
		return
	}

	if cfg.API.URL == "" || cfg.API.Token == "" {
		log.Fatalf("API URL and token are required (flags, config file, or RUSTDESK_API_URL / RUSTDESK_API_TOKEN)")
	}

	dir := rustdesk.New(rustdesk.Config{
		BaseURL:    cfg.API.URL,
		Token:      cfg.API.Token,
		PageSize:   cfg.API.PageSize,
		Timeout:    time.Duration(cfg.API.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.API.MaxRetries,
	})

	pol := models.Policy{
		Ungrouped:      cfg.Policy.NoGroup,
		StaleAfterDays: cfg.Policy.OfflineDays,
	}
	if *allDevices {
		pol = models.Policy{All: true}
	}

	coord := reconcile.New(dir, reconcile.Options{
		Filter: models.SearchFilter{
			ID:              *filterID,
			DeviceName:      *deviceName,
			UserName:        *userName,
			GroupName:       *groupName,
			DeviceGroupName: *deviceGroup,
		},
		Policy:      pol,
		DryRun:      cfg.Run.DryRun,
		OnlyDisable: cfg.Run.OnlyDisable,
		AutoConfirm: cfg.Run.AutoConfirm,
		Workers:     cfg.Run.Workers,
	})

	var report *models.RunReport
	switch command {
	case "view":
		if err := runView(ctx, coord, pol, *allDevices); err != nil {
			log.Fatalf("view: %v", err)
		}
		return
	case "delete":
		report, err = coord.Remove(ctx)
	case "disable":
		report, err = coord.Sweep(ctx, models.StepDisable)
	case "enable":
		report, err = coord.Sweep(ctx, models.StepEnable)
	case "assign":
		attrType, value, ok := strings.Cut(*assignTo, "=")
		if !ok {
			log.Fatalf("assign: -assign-to must be <type>=<value>")
		}
		report, err = coord.Assign(ctx, attrType, value)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if errors.Is(err, reconcile.ErrConfirmationRequired) {
		fmt.Printf("Found %d eligible devices. Use -yes to confirm this operation in a script.\n", report.Eligible)
		return
	}
	if err != nil {
		log.Fatalf("%s run failed: %v", command, err)
	}

	recordRun(cfg, report)
	printReport(report)

	if !report.OK() {
		os.Exit(1)
	}
}

// runView prints the devices the current filters and policy match, without
// mutating anything. With -all (or no active rule), every listed device is
// shown.
func runView(ctx context.Context, coord *reconcile.Coordinator, pol models.Policy, all bool) error {
	devices, _, err := coord.Snapshot(ctx)
	if err != nil {
		return err
	}

	show := devices
	if !all && (pol.Ungrouped || pol.StaleAfterDays > 0) {
		show, _ = reconcile.Partition(devices, pol, time.Now().UTC())
	}

	for _, d := range show {
		last := "never"
		if d.LastOnline != nil {
			last = d.LastOnline.Format(time.RFC3339)
		}
		group := d.Group
		if group == "" {
			group = "-"
		}
		fmt.Printf("%-20s group=%-16s status=%-8s last_online=%s\n", d.ID, group, d.Status, last)
	}
	fmt.Printf("%d of %d devices match\n", len(show), len(devices))
	return nil
}

// recordRun appends the report to the audit database, if enabled. Audit
// failures are logged, never fatal: the run itself already happened.
func recordRun(cfg *config.Config, report *models.RunReport) {
	if !cfg.Audit.Enabled || cfg.Audit.Path == "" {
		return
	}

	database, err := db.Open(cfg.Audit.Path)
	if err != nil {
		log.Printf("[audit] skipping run record: %v", err)
		return
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Printf("[audit] skipping run record: %v", err)
		return
	}

	id, err := audit.NewRunStore(database.Conn).RecordRun(report)
	if err != nil {
		log.Printf("[audit] failed to record run: %v", err)
		return
	}
	log.Printf("[audit] run recorded: %s", id)
}

// runHistory prints past runs from the audit database.
func runHistory(cfg *config.Config, limit int, jsonOut bool) error {
	if cfg.Audit.Path == "" {
		return fmt.Errorf("no audit database configured")
	}

	database, err := db.Open(cfg.Audit.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return err
	}

	runs, err := audit.NewRunStore(database.Conn).ListRuns(limit)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	for _, r := range runs {
		mode := "live"
		if r.DryRun {
			mode = "dry-run"
		}
		fmt.Printf("%s  %-8s %-8s scanned=%-4d eligible=%-4d disabled=%-4d deleted=%-4d failed=%d\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.Command, mode,
			r.Scanned, r.Eligible, r.Disabled, r.Deleted, r.Failed)
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
	}
	return nil
}

// printReport writes the human-readable run summary to stdout.
func printReport(r *models.RunReport) {
	mode := "live"
	if r.DryRun {
		mode = "dry-run"
	}
	fmt.Printf("\n%s run (%s) finished in %s\n", r.Command, mode, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Printf("  scanned:  %d\n", r.Scanned)
	fmt.Printf("  eligible: %d\n", r.Eligible)
	if r.Disabled > 0 || r.Command == "disable" || r.Command == "delete" {
		fmt.Printf("  disabled: %d\n", r.Disabled)
	}
	if r.Enabled > 0 || r.Command == "enable" {
		fmt.Printf("  enabled:  %d\n", r.Enabled)
	}
	if r.Deleted > 0 || r.Command == "delete" {
		fmt.Printf("  deleted:  %d\n", r.Deleted)
	}
	if r.Assigned > 0 || r.Command == "assign" {
		fmt.Printf("  assigned: %d\n", r.Assigned)
	}
	fmt.Printf("  failed:   %d\n", r.Failed)

	if len(r.Records) > 0 {
		fmt.Println("\nPer-device outcomes:")
		for _, rec := range r.Records {
			line := fmt.Sprintf("  %-20s %-8s %s", rec.DeviceID, rec.Step, rec.Outcome)
			if rec.Error != "" {
				line += ": " + rec.Error
			}
			fmt.Println(line)
		}
	}
}

// wardenctl - CLI tool for Warden
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	serverURL string
	output    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "wardenctl",
		Short:   "Warden CLI - Submit and inspect admission-controlled jobs",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Warden server URL")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")

	// Job commands
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Submit and inspect jobs",
	}

	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job through the admission gate",
		RunE:  submitJob,
	}
	submitCmd.Flags().StringP("file", "f", "", "Request file (YAML or JSON)")
	submitCmd.Flags().String("entrypoint", "", "Execution entrypoint")
	submitCmd.Flags().String("target", "", "Deployment target")
	submitCmd.Flags().String("run-id", "", "Stable run ID for canary routing")
	submitCmd.Flags().StringToString("param", nil, "Job parameter (repeatable, key=value)")
	submitCmd.Flags().Int("priority", 0, "Dispatch priority")
	submitCmd.Flags().Int("max-attempts", 0, "Attempt budget before dead-lettering")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE:  listJobs,
	}
	listCmd.Flags().String("status", "", "Filter by status")

	jobCmd.AddCommand(
		submitCmd,
		listCmd,
		&cobra.Command{
			Use:   "get [job-id]",
			Short: "Get job details",
			Args:  cobra.ExactArgs(1),
			RunE:  getJob,
		},
	)

	// Dead-letter commands
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay the dead-letter sink",
	}

	dlqCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List dead-letter entries",
			RunE:  listDeadLetters,
		},
		&cobra.Command{
			Use:   "triage",
			Short: "Group dead-letter entries by failure reason",
			RunE:  triageDeadLetters,
		},
		&cobra.Command{
			Use:   "retry [entry-id]",
			Short: "Requeue a dead-letter entry with a fresh attempt budget",
			Args:  cobra.ExactArgs(1),
			RunE:  retryDeadLetter,
		},
		&cobra.Command{
			Use:   "delete [entry-id]",
			Short: "Delete a dead-letter entry",
			Args:  cobra.ExactArgs(1),
			RunE:  deleteDeadLetter,
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Clear the dead-letter sink",
			RunE:  clearDeadLetters,
		},
	)

	// Circuit breaker commands
	breakerCmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect and reset circuit breakers",
	}

	breakerCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List circuit breakers",
			RunE:  listBreakers,
		},
		&cobra.Command{
			Use:   "reset [target]",
			Short: "Reset one breaker, or all when no target is given",
			Args:  cobra.MaximumNArgs(1),
			RunE:  resetBreaker,
		},
	)

	// Approval commands
	approvalCmd := &cobra.Command{
		Use:   "approval",
		Short: "Manage pending approval tickets",
	}

	approvalCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List pending tickets",
			RunE:  listApprovals,
		},
		&cobra.Command{
			Use:   "approve [ticket-id]",
			Short: "Approve a ticket",
			Args:  cobra.ExactArgs(1),
			RunE:  resolveApproval("approved"),
		},
		&cobra.Command{
			Use:   "reject [ticket-id]",
			Short: "Reject a ticket",
			Args:  cobra.ExactArgs(1),
			RunE:  resolveApproval("rejected"),
		},
	)

	rootCmd.AddCommand(
		jobCmd,
		dlqCmd,
		breakerCmd,
		approvalCmd,
		&cobra.Command{
			Use:   "stats",
			Short: "Show queue, breaker, and worker statistics",
			RunE:  showStats,
		},
		&cobra.Command{
			Use:   "health",
			Short: "Show daemon health",
			RunE:  showHealth,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// API client

func apiRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	url := serverURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if success, ok := result["success"].(bool); !ok || !success {
		if errInfo, ok := result["error"].(map[string]interface{}); ok {
			return nil, fmt.Errorf("%s: %s", errInfo["code"], errInfo["message"])
		}
		return nil, fmt.Errorf("request failed")
	}

	return result, nil
}

// Output helpers

func printOutput(data interface{}) {
	switch output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(data)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.Encode(data)
	default:
		// Table format handled by specific commands
	}
}

func printJobsTable(jobs []interface{}) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENTRYPOINT\tTARGET\tSTATUS\tPRIORITY\tATTEMPTS\tENQUEUED")

	for _, j := range jobs {
		job := j.(map[string]interface{})

		id := job["id"].(string)
		if len(id) > 8 {
			id = id[:8]
		}

		enqueued := "-"
		if s, ok := job["created_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				enqueued = t.Local().Format("2006-01-02 15:04:05")
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f\t%.0f/%.0f\t%s\n",
			id,
			job["entrypoint"],
			job["target"],
			job["status"],
			floatOrZero(job["priority"]),
			floatOrZero(job["attempts"]),
			floatOrZero(job["max_attempts"]),
			enqueued,
		)
	}
	w.Flush()
}

func floatOrZero(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

// Job commands

func submitJob(cmd *cobra.Command, args []string) error {
	var reqBody map[string]interface{}

	if file, _ := cmd.Flags().GetString("file"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		if strings.HasSuffix(file, ".yaml") || strings.HasSuffix(file, ".yml") {
			if err := yaml.Unmarshal(data, &reqBody); err != nil {
				return fmt.Errorf("failed to parse YAML: %w", err)
			}
		} else {
			if err := json.Unmarshal(data, &reqBody); err != nil {
				return fmt.Errorf("failed to parse JSON: %w", err)
			}
		}
	} else {
		entrypoint, _ := cmd.Flags().GetString("entrypoint")
		target, _ := cmd.Flags().GetString("target")
		if entrypoint == "" || target == "" {
			return fmt.Errorf("either --file or both --entrypoint and --target are required")
		}
		runID, _ := cmd.Flags().GetString("run-id")
		params, _ := cmd.Flags().GetStringToString("param")
		priority, _ := cmd.Flags().GetInt("priority")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")

		reqBody = map[string]interface{}{
			"entrypoint": entrypoint,
			"target":     target,
		}
		if runID != "" {
			reqBody["run_id"] = runID
		}
		if len(params) > 0 {
			reqBody["params"] = params
		}
		if priority != 0 {
			reqBody["priority"] = priority
		}
		if maxAttempts != 0 {
			reqBody["max_attempts"] = maxAttempts
		}
	}

	result, err := apiRequest("POST", "/api/v1/jobs", reqBody)
	if err != nil {
		return err
	}

	dec := result["data"].(map[string]interface{})
	if ticket, ok := dec["ticket_id"].(string); ok && ticket != "" {
		job := dec["job"].(map[string]interface{})
		fmt.Printf("Job %s is waiting for approval (ticket %s)\n", job["id"], ticket)
		return nil
	}
	if job, ok := dec["job"].(map[string]interface{}); ok {
		fmt.Printf("Job queued: %s\n", job["id"])
	}
	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	path := "/api/v1/jobs"
	if status, _ := cmd.Flags().GetString("status"); status != "" {
		path += "?status=" + status
	}

	result, err := apiRequest("GET", path, nil)
	if err != nil {
		return err
	}

	data := result["data"].(map[string]interface{})
	jobs := data["jobs"].([]interface{})

	if output == "table" {
		fmt.Printf("Total: %d jobs\n\n", len(jobs))
		printJobsTable(jobs)
	} else {
		printOutput(jobs)
	}

	return nil
}

func getJob(cmd *cobra.Command, args []string) error {
	result, err := apiRequest("GET", "/api/v1/jobs/"+args[0], nil)
	if err != nil {
		return err
	}

	data := result["data"]

	if output == "table" {
		job := data.(map[string]interface{})
		fmt.Printf("ID:          %s\n", job["id"])
		fmt.Printf("Entrypoint:  %s\n", job["entrypoint"])
		fmt.Printf("Target:      %s\n", job["target"])
		fmt.Printf("Status:      %s\n", job["status"])
		fmt.Printf("Attempts:    %.0f/%.0f\n", floatOrZero(job["attempts"]), floatOrZero(job["max_attempts"]))
		if ticket, ok := job["ticket_id"].(string); ok && ticket != "" {
			fmt.Printf("Ticket:      %s\n", ticket)
		}
		if e, ok := job["last_error"].(string); ok && e != "" {
			fmt.Printf("Last Error:  %s\n", truncate(e, 200))
		}
		if ref, ok := job["ref_id"].(string); ok && ref != "" {
			fmt.Printf("Result Ref:  %s\n", ref)
		}
	} else {
		printOutput(data)
	}

	return nil
}

// Dead-letter commands

func listDeadLetters(cmd *cobra.Command, args []string) error {
	result, err := apiRequest("GET", "/api/v1/deadletters", nil)
	if err != nil {
		return err
	}

	data := result["data"].(map[string]interface{})
	entries := data["entries"].([]interface{})

	if output != "table" {
		printOutput(entries)
		return nil
	}

	fmt.Printf("Total: %d entries\n\n", len(entries))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENTRYPOINT\tTARGET\tREASON\tADDED")
	for _, e := range entries {
		entry := e.(map[string]interface{})
		job, _ := entry["job"].(map[string]interface{})

		id := entry["id"].(string)
		if len(id) > 8 {
			id = id[:8]
		}
		when := "-"
		if s, ok := entry["added_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				when = t.Local().Format("2006-01-02 15:04:05")
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			id,
			job["entrypoint"],
			job["target"],
			truncate(fmt.Sprint(entry["reason"]), 60),
			when,
		)
	}
	w.Flush()
	return nil
}

func triageDeadLetters(cmd *cobra.Command, args []string) error {
	result, err := apiRequest("GET", "/api/v1/deadletters/triage", nil)
	if err != nil {
		return err
	}

	data := result["data"].(map[string]interface{})
	groups := data["groups"].([]interface{})

	if output != "table" {
		printOutput(groups)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COUNT\tREASON\tFIRST SEEN\tLAST SEEN")
	for _, g := range groups {
		group := g.(map[string]interface{})
		fmt.Fprintf(w, "%.0f\t%s\t%s\t%s\n",
			floatOrZero(group["count"]),
			truncate(fmt.Sprint(group["reason"]), 80),
			localTime(group["first_seen"]),
			localTime(group["last_seen"]),
		)
	}
	w.Flush()
	return nil
}

func retryDeadLetter(cmd *cobra.Command, args []string) error {
	result, err := apiRequest("POST", "/api/v1/deadletters/"+args[0]+"/retry", nil)
	if err != nil {
		return err
	}

	job := result["data"].(map[string]interface{})
	fmt.Printf("Entry requeued as job %s\n", job["id"])
	return nil
}

func deleteDeadLetter(cmd *cobra.Command, args []string) error {
	if _, err := apiRequest("DELETE", "/api/v1/deadletters/"+args[0], nil); err != nil {
		return err
	}
	fmt.Println("Entry deleted")
	return nil
}

func clearDeadLetters(cmd *cobra.Command, args []string) error {
	if _, err := apiRequest("DELETE", "/api/v1/deadletters", nil); err != nil {
		return err
	}
	fmt.Println("Dead-letter sink cleared")
	return nil
}

// Circuit breaker commands

func listBreakers(cmd *cobra.Command, args []string) error {
	result, err := apiRequest("GET", "/api/v1/breakers", nil)
	if err != nil {
		return err
	}

	data := result["data"].(map[string]interface{})

	if output != "table" {
		printOutput(data)
		return nil
	}

	targets, _ := data["targets"].(map[string]interface{})
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATE\tCONSECUTIVE FAILURES\tLAST FAILURE")
	for name, s := range targets {
		stats := s.(map[string]interface{})
		fmt.Fprintf(w, "%s\t%s\t%.0f\t%s\n",
			name,
			stats["state"],
			floatOrZero(stats["consecutive_failures"]),
			localTime(stats["last_failure_at"]),
		)
	}
	w.Flush()
	return nil
}

func resetBreaker(cmd *cobra.Command, args []string) error {
	path := "/api/v1/breakers/reset"
	if len(args) == 1 {
		path = "/api/v1/breakers/" + args[0] + "/reset"
	}
	if _, err := apiRequest("POST", path, nil); err != nil {
		return err
	}
	fmt.Println("Breaker reset")
	return nil
}

// Approval commands

func listApprovals(cmd *cobra.Command, args []string) error {
	result, err := apiRequest("GET", "/api/v1/approvals", nil)
	if err != nil {
		return err
	}

	data := result["data"].(map[string]interface{})
	tickets, _ := data["tickets"].(map[string]interface{})

	if output != "table" {
		printOutput(tickets)
		return nil
	}

	fmt.Printf("Total: %d pending tickets\n\n", len(tickets))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICKET\tJOB\tRISK\tSUMMARY")
	for id, tk := range tickets {
		ticket := tk.(map[string]interface{})
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			id,
			ticket["job_id"],
			ticket["risk"],
			truncate(fmt.Sprint(ticket["summary"]), 80),
		)
	}
	w.Flush()
	return nil
}

func resolveApproval(outcome string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"outcome": outcome}
		if _, err := apiRequest("POST", "/api/v1/approvals/"+args[0]+"/resolve", body); err != nil {
			return err
		}
		fmt.Printf("Ticket %s %s\n", args[0], outcome)
		return nil
	}
}

// Status commands

func showStats(cmd *cobra.Command, args []string) error {
	result, err := apiRequest("GET", "/api/v1/stats", nil)
	if err != nil {
		return err
	}

	data := result["data"].(map[string]interface{})

	if output != "table" {
		printOutput(data)
		return nil
	}

	q := data["queue"].(map[string]interface{})
	c := data["circuits"].(map[string]interface{})
	wk := data["worker"].(map[string]interface{})

	fmt.Printf("Queue:    %.0f queued, %.0f running, %.0f waiting approval (capacity %.0f, %.1f%% used)\n",
		floatOrZero(q["queued"]), floatOrZero(q["running"]), floatOrZero(q["waiting_approval"]),
		floatOrZero(q["capacity"]), floatOrZero(q["utilization_percent"]))
	fmt.Printf("Totals:   %.0f succeeded, %.0f dead-lettered, %.0f recent failures\n",
		floatOrZero(q["succeeded"]), floatOrZero(q["dead_lettered"]), floatOrZero(q["recent_failures"]))
	fmt.Printf("Circuits: %.0f closed, %.0f open, %.0f half-open\n",
		floatOrZero(c["closed"]), floatOrZero(c["open"]), floatOrZero(c["half_open"]))
	fmt.Printf("Worker:   %.0f processed, %.0f failed, %.0f timed out, %.0f circuit-rejected\n",
		floatOrZero(wk["processed"]), floatOrZero(wk["failed"]),
		floatOrZero(wk["timed_out"]), floatOrZero(wk["circuit_rejected"]))
	if backpressure, ok := q["backpressure_active"].(bool); ok && backpressure {
		fmt.Println("\nWARNING: admission backpressure is active")
	}
	return nil
}

func showHealth(cmd *cobra.Command, args []string) error {
	// Bypass apiRequest: /health reports success=false with a payload
	// when the daemon is critical, and that payload is the answer.
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	data, _ := result["data"].(map[string]interface{})
	if output != "table" {
		printOutput(data)
		return nil
	}

	fmt.Printf("Status: %s\n", data["status"])
	if reason, ok := data["reason"].(string); ok && reason != "" {
		fmt.Printf("Reason: %s\n", reason)
	}
	return nil
}

// Helpers

func localTime(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		return "-"
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	triggerAddr    string
	triggerMode    string
	triggerConsent bool
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <patient-id>",
	Short: "Ask a running server to start a check-in",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrigger,
}

func init() {
	triggerCmd.Flags().StringVar(&triggerAddr, "addr", "http://localhost:8081", "server base URL")
	triggerCmd.Flags().StringVar(&triggerMode, "mode", "text", "delivery mode: text or call")
	triggerCmd.Flags().BoolVar(&triggerConsent, "consent", false, "ask the patient before starting")
}

func runTrigger(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("patient id must be a UUID: %w", err)
	}
	q := url.Values{}
	q.Set("type", triggerMode)
	q.Set("consent", strconv.FormatBool(triggerConsent))
	target := strings.TrimRight(triggerAddr, "/") + "/checkin/" + id.String() + "?" + q.Encode()

	client := &http.Client{Timeout: 3 * time.Minute}
	resp, err := client.Post(target, "application/json", nil)
	if err != nil {
		return fmt.Errorf("trigger check-in: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var out struct {
		OK           bool   `json:"ok"`
		Username     string `json:"username"`
		DeliveryMode string `json:"delivery_mode"`
		Error        string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("unexpected response %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK || !out.OK {
		return fmt.Errorf("check-in not started (%s): %s", resp.Status, out.Error)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "check-in started for %s (%s)\n", out.Username, out.DeliveryMode)
	return nil
}

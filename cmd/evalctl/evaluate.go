package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Submit a design for evaluation and print the result",
	Args:  cobra.NoArgs,
	RunE:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().String("url", envOr("GATEWAY_URL", "http://localhost:8080"), "Gateway base URL")
	evaluateCmd.Flags().String("token", os.Getenv("API_TOKEN"), "Gateway API key")
	evaluateCmd.Flags().String("design", "", "Design archive (required)")
	evaluateCmd.Flags().String("evaluator", "", "Evaluator archive (required)")
	evaluateCmd.Flags().String("submission-id", "", "Submission id; the gateway generates one when empty")
	evaluateCmd.Flags().String("scoring", "", "Scoring document overriding the evaluator's own")
	evaluateCmd.Flags().Duration("timeout", 20*time.Minute, "Request timeout")
	_ = evaluateCmd.MarkFlagRequired("design")
	_ = evaluateCmd.MarkFlagRequired("evaluator")
	rootCmd.AddCommand(evaluateCmd)
}

type submission struct {
	URL          string
	Token        string
	DesignPath   string
	EvalPath     string
	SubmissionID string
	Scoring      []byte
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	var sub submission
	sub.URL, _ = cmd.Flags().GetString("url")
	sub.Token, _ = cmd.Flags().GetString("token")
	sub.DesignPath, _ = cmd.Flags().GetString("design")
	sub.EvalPath, _ = cmd.Flags().GetString("evaluator")
	sub.SubmissionID, _ = cmd.Flags().GetString("submission-id")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if p, _ := cmd.Flags().GetString("scoring"); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read scoring document: %w", err)
		}
		sub.Scoring = b
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "→ POST %s/evaluate\n", strings.TrimRight(sub.URL, "/"))
	status, body, err := post(ctx, http.DefaultClient, sub)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "HTTP %d\n", status)

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		fmt.Fprintln(out, string(body))
		return fmt.Errorf("gateway returned invalid JSON")
	}
	pretty, _ := json.MarshalIndent(doc, "", "  ")
	fmt.Fprintf(out, "\n--- Result ---\n%s\n", pretty)

	verdict := "FAIL"
	if passed(doc) {
		verdict = "PASS"
	}
	fmt.Fprintf(out, "\nTOOLS TEST: %s\n", verdict)
	return nil
}

func post(ctx context.Context, client *http.Client, sub submission) (int, []byte, error) {
	buf := new(bytes.Buffer)
	mw := multipart.NewWriter(buf)
	for field, p := range map[string]string{"design_zip": sub.DesignPath, "evaluator_zip": sub.EvalPath} {
		data, err := os.ReadFile(p)
		if err != nil {
			return 0, nil, fmt.Errorf("read %s: %w", field, err)
		}
		fw, err := mw.CreateFormFile(field, filepath.Base(p))
		if err != nil {
			return 0, nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return 0, nil, err
		}
	}
	if sub.SubmissionID != "" {
		_ = mw.WriteField("submission_id", sub.SubmissionID)
	}
	if len(sub.Scoring) > 0 {
		_ = mw.WriteField("scoring", string(sub.Scoring))
	}
	if err := mw.Close(); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(sub.URL, "/")+"/evaluate", buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if sub.Token != "" {
		req.Header.Set("Authorization", "Bearer "+sub.Token)
	}
	res, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	return res.StatusCode, body, err
}

// passed: simulation succeeded and synthesis either succeeded or was skipped.
func passed(doc map[string]any) bool {
	if ok, _ := doc["success"].(bool); !ok {
		return false
	}
	v, _ := doc["verilator_results"].(map[string]any)
	o, _ := doc["openlane_results"].(map[string]any)
	vOK, _ := v["success"].(bool)
	oOK, _ := o["success"].(bool)
	skipped, _ := o["skipped"].(bool)
	return vOK && (oOK || skipped)
}

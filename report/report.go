// Package report renders case results as a console summary, Markdown, or
// JSON for machine consumption.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mykhaliev/agent-eval/model"
	"github.com/mykhaliev/agent-eval/version"
)

const separatorWidth = 80

// Summary aggregates suite-level numbers across all case runs.
type Summary struct {
	TotalCases   int     `json:"totalCases"`
	Passed       int     `json:"passed"`
	Failed       int     `json:"failed"`
	PassRate     float64 `json:"passRate"`
	AverageScore float64 `json:"averageScore"`
	TotalTurns   int     `json:"totalTurns"`
	TotalTokens  int     `json:"totalTokens"`
	TotalLatency int64   `json:"totalLatencyMs"`
}

// JSONReport is the top-level JSON document.
type JSONReport struct {
	GeneratedAt time.Time       `json:"generatedAt"`
	Tool        string          `json:"tool"`
	Version     string          `json:"version"`
	EvalFile    string          `json:"evalFile,omitempty"`
	Summary     Summary         `json:"summary"`
	Runs        []model.CaseRun `json:"runs"`
}

type Generator struct {
	EvalFile string
}

func NewGenerator(evalFile string) *Generator {
	return &Generator{EvalFile: evalFile}
}

// BuildSummary computes the aggregate numbers for a set of runs.
func BuildSummary(runs []model.CaseRun) Summary {
	s := Summary{TotalCases: len(runs)}
	scoreSum := 0.0

	for _, run := range runs {
		if run.Result == nil {
			s.Failed++
			continue
		}
		if run.Result.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
		scoreSum += run.Result.OverallScore
		s.TotalTurns += run.Result.TotalTurns
		s.TotalTokens += run.Result.Metrics.TokensUsed
		s.TotalLatency += run.Result.Metrics.LatencyMs
	}

	if s.TotalCases > 0 {
		s.PassRate = float64(s.Passed) / float64(s.TotalCases) * 100
		s.AverageScore = scoreSum / float64(s.TotalCases)
	}
	return s
}

// PrintConsoleReport writes a human-readable summary to stdout.
func (g *Generator) PrintConsoleReport(runs []model.CaseRun) {
	s := BuildSummary(runs)

	fmt.Println("\n" + strings.Repeat("=", separatorWidth))
	fmt.Println("[Summary] Evaluation Results")
	fmt.Println(strings.Repeat("=", separatorWidth))

	for _, run := range runs {
		res := run.Result
		if res == nil || res.Case == nil {
			continue
		}

		status := "FAIL"
		if res.Passed {
			status = "PASS"
		}
		fmt.Printf("  [%s] %-30s agent=%s turns=%d score=%.2f\n",
			status, caseLabel(res.Case), run.AgentName, res.TotalTurns, res.OverallScore)
		if res.Termination.Reason != "" {
			fmt.Printf("         terminated: %s\n", res.Termination.Reason)
		}
		for _, v := range res.Verdicts {
			mark := "x"
			if v.Passed {
				mark = "+"
			}
			fmt.Printf("         [%s] %-24s %.1f  %s\n", mark, v.CriterionID, v.Score, v.Reasoning)
		}
		if res.Error != "" {
			fmt.Printf("         error: %s\n", res.Error)
		}
	}

	fmt.Println(strings.Repeat("-", separatorWidth))
	fmt.Printf("  Total Cases:   %d\n", s.TotalCases)
	fmt.Printf("  Passed:        %d (%.1f%%)\n", s.Passed, s.PassRate)
	fmt.Printf("  Failed:        %d\n", s.Failed)
	fmt.Printf("  Average Score: %.2f\n", s.AverageScore)
	fmt.Printf("  Total Turns:   %d\n", s.TotalTurns)
	fmt.Printf("  Total Tokens:  %d\n", s.TotalTokens)
	fmt.Printf("  Total Latency: %dms\n", s.TotalLatency)
	fmt.Println(strings.Repeat("=", separatorWidth))
}

// GenerateMarkdownReport renders the full results, per-case details
// included, as a Markdown document.
func (g *Generator) GenerateMarkdownReport(runs []model.CaseRun) string {
	s := BuildSummary(runs)

	var b strings.Builder
	b.WriteString("# Evaluation Report\n\n")
	if g.EvalFile != "" {
		fmt.Fprintf(&b, "Eval file: `%s`\n\n", g.EvalFile)
	}
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().Format(time.RFC3339))

	b.WriteString("## Summary\n\n")
	b.WriteString("| Cases | Passed | Failed | Pass Rate | Avg Score | Turns | Tokens |\n")
	b.WriteString("|-------|--------|--------|-----------|-----------|-------|--------|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %.1f%% | %.2f | %d | %d |\n\n",
		s.TotalCases, s.Passed, s.Failed, s.PassRate, s.AverageScore, s.TotalTurns, s.TotalTokens)

	b.WriteString("## Cases\n\n")
	for _, run := range runs {
		res := run.Result
		if res == nil || res.Case == nil {
			continue
		}

		status := "FAIL"
		if res.Passed {
			status = "PASS"
		}
		fmt.Fprintf(&b, "### %s %s\n\n", status, caseLabel(res.Case))
		fmt.Fprintf(&b, "- Agent: %s\n", run.AgentName)
		fmt.Fprintf(&b, "- Turns: %d\n", res.TotalTurns)
		fmt.Fprintf(&b, "- Score: %.2f\n", res.OverallScore)
		if res.Termination.Reason != "" {
			fmt.Fprintf(&b, "- Terminated: %s (%s)\n", res.Termination.Reason, res.Termination.Type)
		}
		fmt.Fprintf(&b, "- Duration: %dms, Tokens: %d\n",
			res.Metrics.LatencyMs, res.Metrics.TokensUsed)
		if res.Error != "" {
			fmt.Fprintf(&b, "- Error: %s\n", res.Error)
		}
		b.WriteString("\n")

		if len(res.Verdicts) > 0 {
			b.WriteString("| Criterion | Score | Passed | Reasoning |\n")
			b.WriteString("|-----------|-------|--------|-----------|\n")
			for _, v := range res.Verdicts {
				fmt.Fprintf(&b, "| %s | %.1f | %t | %s |\n",
					v.CriterionID, v.Score, v.Passed, sanitizeCell(v.Reasoning))
			}
			b.WriteString("\n")
		}

		if len(res.History) > 0 {
			b.WriteString("<details><summary>Conversation</summary>\n\n")
			for _, turn := range res.History {
				fmt.Fprintf(&b, "**Turn %d**\n\n", turn.TurnIndex)
				fmt.Fprintf(&b, "- user: %s\n", sanitizeCell(renderAny(turn.Input)))
				if turn.Error != "" {
					fmt.Fprintf(&b, "- agent: failed: %s\n", sanitizeCell(turn.Error))
				} else {
					fmt.Fprintf(&b, "- agent: %s\n", sanitizeCell(renderAny(turn.Output)))
				}
			}
			b.WriteString("\n</details>\n\n")
		}
	}

	return b.String()
}

// GenerateJSONReport marshals the full run set with summary metadata.
func (g *Generator) GenerateJSONReport(runs []model.CaseRun) (string, error) {
	doc := JSONReport{
		GeneratedAt: time.Now(),
		Tool:        "agent-eval",
		Version:     version.Version,
		EvalFile:    g.EvalFile,
		Summary:     BuildSummary(runs),
		Runs:        runs,
	}

	out, err := sonic.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON report: %w", err)
	}
	return string(out), nil
}

// LoadJSONReport reads back a previously written JSON report.
func LoadJSONReport(data []byte) (*JSONReport, error) {
	var doc JSONReport
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON report: %w", err)
	}
	return &doc, nil
}

func caseLabel(c *model.Case) string {
	if c.Name != "" {
		return fmt.Sprintf("%s (%s)", c.Name, c.ID)
	}
	return c.ID
}

func renderAny(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if out, err := sonic.MarshalString(v); err == nil {
		return out
	}
	return fmt.Sprintf("%v", v)
}

// sanitizeCell keeps multi-line content from breaking Markdown tables.
func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "\\|")
	return s
}

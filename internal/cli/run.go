package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <ticket-id>",
	Short: "同步处理一张工单",
	Long:  `拉取指定工单并完整执行一次分诊流程，结果会写回 Freshdesk 并记录审计。`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTicket,
}

var runJSON bool

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "以 JSON 输出本次运行结果")
	rootCmd.AddCommand(runCmd)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(22)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func runTicket(cmd *cobra.Command, args []string) error {
	if cfg == nil {
		return errors.New("config not loaded")
	}
	ctx := cmd.Context()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close app failed", "error", err)
		}
	}()

	res, runErr := a.runner.Process(ctx, args[0])
	// 投递失败时仍然有完整的决策结果可以展示
	if runErr != nil && !errors.Is(runErr, workflow.ErrDeliveryFailed) {
		return runErr
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		return runErr
	}

	fmt.Println(renderSummary(res))
	if reply := res.State.PublicReply; reply != "" {
		fmt.Println(renderMarkdown(reply))
	}
	return runErr
}

func renderSummary(res workflow.Result) string {
	st := res.State
	status := okStyle.Render(string(res.Status))
	if res.Status != workflow.StatusResolved {
		status = warnStyle.Render(string(res.Status))
	}

	rows := []struct{ k, v string }{
		{"Run ID", res.RunID},
		{"Ticket", res.TicketID},
		{"Category", res.Category},
		{"Customer Type", string(res.CustomerType)},
		{"Status", status},
		{"Enough Information", fmt.Sprintf("%t", st.EnoughInformation)},
		{"Hallucination Risk", fmt.Sprintf("%.2f", st.HallucinationRisk)},
		{"Product Confidence", fmt.Sprintf("%.2f", st.ProductMatchConfidence)},
		{"VIP Compliant", fmt.Sprintf("%t", st.VIPCompliant)},
		{"Hits (img/doc/past)", fmt.Sprintf("%d/%d/%d", len(st.ImageHits), len(st.TextHits), len(st.PastTicketHits))},
		{"Tags", strings.Join(res.Tags, ", ")},
		{"Note", st.NoteType},
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Flusso run"))
	for _, r := range rows {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render(r.k))
		b.WriteString(r.v)
	}
	if st.DeliveryFailed {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("delivery to Freshdesk failed"))
	}
	return boxStyle.Render(b.String())
}

func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return out
}

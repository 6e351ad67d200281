package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ProductLabsUS/Flusso-Automation/internal/storage"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "查看和清理运行审计记录",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出最近的运行记录",
	RunE:  runAuditList,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "删除早于 N 天的运行记录",
	RunE:  runAuditPrune,
}

var (
	listTicket string
	listStatus string
	listFailed bool
	listLimit  int
	pruneDays  int
)

func init() {
	auditListCmd.Flags().StringVar(&listTicket, "ticket", "", "按工单号过滤")
	auditListCmd.Flags().StringVar(&listStatus, "status", "", "按最终状态过滤")
	auditListCmd.Flags().BoolVar(&listFailed, "failed-delivery", false, "只显示写回失败的运行")
	auditListCmd.Flags().IntVar(&listLimit, "limit", 20, "最多显示条数")
	auditPruneCmd.Flags().IntVar(&pruneDays, "days", 0, "保留最近 N 天的记录")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditPruneCmd)
	rootCmd.AddCommand(auditCmd)
}

func openStore(cmd *cobra.Command) (*storage.Storage, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	return storage.Open(cmd.Context(), cfg.Storage)
}

func runAuditList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.QueryRunRecords(cmd.Context(), storage.RunQuery{
		TicketID:           listTicket,
		Status:             listStatus,
		OnlyFailedDelivery: listFailed,
		Limit:              listLimit,
		Desc:               true,
	})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECORDED\tTICKET\tSTATUS\tCATEGORY\tCUSTOMER\tRISK\tCONF\tNOTE\tDELIVERY\tRUN ID")
	for _, r := range recs {
		delivery := "ok"
		if r.DeliveryFailed {
			delivery = "FAILED"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%.2f\t%s\t%s\t%s\n",
			r.RecordedAt.Local().Format(time.DateTime),
			r.TicketID, r.Status, r.Category, r.CustomerType,
			r.HallucinationRisk, r.ProductMatchConfidence,
			r.NoteType, delivery, r.RunID)
	}
	return w.Flush()
}

func runAuditPrune(cmd *cobra.Command, args []string) error {
	if pruneDays <= 0 {
		_ = cmd.Usage()
		return errors.New("--days must be positive")
	}
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	before := time.Now().UTC().AddDate(0, 0, -pruneDays)
	fmt.Printf("Pruning runs older than %d days (before %s)...\n", pruneDays, before.Format(time.RFC3339))
	n, err := store.DeleteRunRecordsBefore(cmd.Context(), before)
	if err != nil {
		return err
	}
	fmt.Printf("Prune completed. Deleted %d records.\n", n)
	return nil
}

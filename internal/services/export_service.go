package services

import (
	"encoding/csv"
	"fmt"
	"log"
	"net/http"

	"github.com/kidcoin/backend/internal/models"
)

// ExportService renders read-only CSV projections of the coin history and
// purchase tables. Credits carry an explicit "+" sign so a spreadsheet
// reader can tell grants from deductions at a glance.
type ExportService struct {
	ledger *LedgerService
}

func NewExportService(ledger *LedgerService) *ExportService {
	return &ExportService{ledger: ledger}
}

// ExportCoinHistory downloads a user's coin history as CSV
// @Summary Export coin history
// @Tags export
// @Produce text/csv
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Success 200 {string} string "CSV attachment"
// @Router /coins/export/{userId} [get]
func (s *ExportService) ExportCoinHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}

	history, err := s.ledger.History(userID)
	if err != nil {
		log.Printf("[EXPORT] Coin history export failed for user %d: %v", userID, err)
		SendLedgerError(w, err)
		return
	}

	records := make([][]string, 0, len(history))
	for _, coin := range history {
		records = append(records, []string{
			signedAmount(coin.Amount),
			coin.Reason,
			coin.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	writeCSV(w, "coin-history.csv", []string{"Amount", "Reason", "Date"}, records)
}

// ExportPurchases downloads a user's game-day purchases as CSV
// @Summary Export purchase history
// @Tags export
// @Produce text/csv
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Success 200 {string} string "CSV attachment"
// @Router /game-time/export/{userId} [get]
func (s *ExportService) ExportPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}

	purchases, err := s.ledger.PurchaseHistory(userID)
	if err != nil {
		log.Printf("[EXPORT] Purchase export failed for user %d: %v", userID, err)
		SendLedgerError(w, err)
		return
	}

	records := make([][]string, 0, len(purchases))
	for _, p := range purchases {
		records = append(records, []string{
			fmt.Sprintf("%d", p.Days),
			p.CoinsSpent.String(),
			p.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	writeCSV(w, "game-time-purchases.csv", []string{"Days", "Coins Spent", "Date"}, records)
}

// ExportParentHistory downloads all children's coin history as CSV
// @Summary Export children coin history
// @Tags export
// @Produce text/csv
// @Security BearerAuth
// @Param parentId path int true "Parent ID"
// @Success 200 {string} string "CSV attachment"
// @Router /parent/coins/export/{parentId} [get]
func (s *ExportService) ExportParentHistory(w http.ResponseWriter, r *http.Request) {
	parentID, ok := pathID(w, r, "parentId")
	if !ok {
		return
	}

	history, err := s.ledger.ParentHistory(parentID)
	if err != nil {
		log.Printf("[EXPORT] Parent history export failed for parent %d: %v", parentID, err)
		SendLedgerError(w, err)
		return
	}

	records := make([][]string, 0, len(history))
	for _, entry := range history {
		records = append(records, []string{
			entry.Username,
			signedAmount(entry.Amount),
			entry.Reason,
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	writeCSV(w, "children-coin-history.csv", []string{"Child", "Amount", "Reason", "Date"}, records)
}

// signedAmount renders a money value with an explicit sign on credits.
func signedAmount(m models.Money) string {
	if m.IsNegative() {
		return m.String()
	}
	return "+" + m.String()
}

func writeCSV(w http.ResponseWriter, filename string, headers []string, records [][]string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		log.Printf("[EXPORT] CSV write failed: %v", err)
		return
	}
	if err := cw.WriteAll(records); err != nil {
		log.Printf("[EXPORT] CSV write failed: %v", err)
	}
	cw.Flush()
}

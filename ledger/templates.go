package ledger

import "fmt"

// TemplateIDs Daml模板的完整限定id (packageId:module:entity)
type TemplateIDs struct {
	Operator      string
	PlayerAccount string
	Race          string
	BetRequest    string
	Bet           string
	Payout        string
	RefundReceipt string
}

// MakeTemplateIDs 根据package id构建模板id集合
func MakeTemplateIDs(packageID string) TemplateIDs {
	t := func(entity string) string {
		return fmt.Sprintf("%s:HorseRaceSecure:%s", packageID, entity)
	}
	return TemplateIDs{
		Operator:      t("Operator"),
		PlayerAccount: t("PlayerAccount"),
		Race:          t("Race"),
		BetRequest:    t("BetRequest"),
		Bet:           t("Bet"),
		Payout:        t("Payout"),
		RefundReceipt: t("RefundReceipt"),
	}
}

package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/spf13/viper"
)

// ISO20022PayoutExecutor dispatches affiliate payouts to the settlement rail
// as pacs.008 credit transfer messages. The rail confirms final outcomes
// asynchronously; GetPayoutOutcome polls its status endpoint.
type ISO20022PayoutExecutor struct {
	railURL    string
	debtorBIC  string
	httpClient *http.Client
}

func NewISO20022PayoutExecutor() *ISO20022PayoutExecutor {
	viper.SetDefault("payout.rail_url", "https://rail.example.com/payouts")
	viper.SetDefault("payout.debtor_bic", "PAYLOOP1")

	return &ISO20022PayoutExecutor{
		railURL:    viper.GetString("payout.rail_url"),
		debtorBIC:  viper.GetString("payout.debtor_bic"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Execute renders the instruction as pacs.008 and posts it to the rail.
// A 2xx answer is accepted, a 4xx is rejected, anything else (including
// transport errors) is ambiguous: the payout may or may not have been
// booked, so the caller must resolve it through GetPayoutOutcome.
func (e *ISO20022PayoutExecutor) Execute(ctx context.Context, instr PayoutInstruction) (PayoutOutcome, error) {
	doc, err := e.buildPacs008(instr)
	if err != nil {
		return OutcomeRejected, fmt.Errorf("build pacs.008: %w", err)
	}

	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return OutcomeRejected, fmt.Errorf("marshal pacs.008: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.railURL, bytes.NewReader(xmlData))
	if err != nil {
		return OutcomeRejected, err
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Idempotency-Key", instr.IdempotencyKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		log.Printf("[PAYOUT] Rail dispatch failed for key %s: %v", instr.IdempotencyKey, err)
		return OutcomeAmbiguous, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		log.Printf("[PAYOUT] Rail accepted payout key=%s amount=%d %s", instr.IdempotencyKey, instr.Amount, instr.Currency)
		return OutcomeAccepted, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		log.Printf("[PAYOUT] Rail rejected payout key=%s status=%d", instr.IdempotencyKey, resp.StatusCode)
		return OutcomeRejected, nil
	default:
		log.Printf("[PAYOUT] Rail returned ambiguous status %d for key %s", resp.StatusCode, instr.IdempotencyKey)
		return OutcomeAmbiguous, nil
	}
}

// GetPayoutOutcome queries the rail's status endpoint for the final outcome
// of a previously dispatched payout.
func (e *ISO20022PayoutExecutor) GetPayoutOutcome(ctx context.Context, idempotencyKey string) (PayoutOutcome, error) {
	url := fmt.Sprintf("%s/%s", e.railURL, idempotencyKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return OutcomeAmbiguous, err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return OutcomeAmbiguous, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return OutcomeAmbiguous, fmt.Errorf("rail status endpoint returned %d", resp.StatusCode)
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return OutcomeAmbiguous, err
	}

	switch result.Status {
	case "settled", "accepted":
		return OutcomeAccepted, nil
	case "rejected", "returned":
		return OutcomeRejected, nil
	default:
		return OutcomeAmbiguous, nil
	}
}

func (e *ISO20022PayoutExecutor) buildPacs008(instr PayoutInstruction) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	var details struct {
		AccountName string `json:"account_name"`
		BankCode    string `json:"bank_code"`
	}
	if len(instr.PayoutDetails) > 0 {
		if err := json.Unmarshal(instr.PayoutDetails, &details); err != nil {
			return nil, fmt.Errorf("decode payout details: %w", err)
		}
	}
	if details.AccountName == "" {
		details.AccountName = instr.AffiliateID
	}

	msgID := uuid.New().String()
	now := time.Now()
	amount := float64(instr.Amount) / 100

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(instr.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(msgID)}[0],
					EndToEndId: common.Max35Text(instr.IdempotencyKey),
					TxId:       &[]common.Max35Text{common.Max35Text(msgID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(instr.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&now),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(e.debtorBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("PayLoop Platform")}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(details.BankCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(details.AccountName)}[0],
				},
			},
		},
	}

	return doc, nil
}

package payouts

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/servana/backend/internal/models"
)

var ErrPayoutNotFound = errors.New("no payout recorded for booking")

// PayoutStore is the slice of the ledger the exporter needs.
type PayoutStore interface {
	GetPayout(ctx context.Context, bookingID string) (*models.BusinessPayoutTransaction, error)
	MarkPayoutExported(ctx context.Context, id string) error
}

// Exporter renders pending provider payouts as pacs.008 credit transfer
// messages for the settlement file feed.
type Exporter struct {
	store       PayoutStore
	platformBIC string
}

func NewExporter(store PayoutStore, platformBIC string) *Exporter {
	if platformBIC == "" {
		platformBIC = "SERVANAP"
	}
	return &Exporter{store: store, platformBIC: platformBIC}
}

// ExportRequest identifies where the provider's net amount should land.
type ExportRequest struct {
	BookingID        string `json:"booking_id" validate:"required"`
	ProviderBankCode string `json:"provider_bank_code" validate:"required"`
	ProviderName     string `json:"provider_name" validate:"required"`
}

// Export builds the pacs.008 message for a booking's payout and marks the
// payout row exported. Exporting an already-exported payout fails; the row is
// the idempotency guard for the settlement feed.
func (e *Exporter) Export(ctx context.Context, req ExportRequest) (string, error) {
	payout, err := e.store.GetPayout(ctx, req.BookingID)
	if err != nil {
		return "", ErrPayoutNotFound
	}

	doc, err := e.BuildPacs008(payout, req.ProviderBankCode, req.ProviderName)
	if err != nil {
		return "", err
	}
	xmlData, err := e.ConvertToXML(doc)
	if err != nil {
		return "", err
	}

	if err := e.store.MarkPayoutExported(ctx, payout.ID); err != nil {
		return "", err
	}
	log.Printf("[PAYOUT] Exported payout %s for booking %s (%d %s net)",
		payout.ID, payout.BookingID, payout.NetPaymentAmount, payout.Currency)
	return xmlData, nil
}

// BuildPacs008 creates a pacs.008 FIToFICustomerCreditTransfer carrying the
// provider's net amount. Amounts are converted from cents to major units.
func (e *Exporter) BuildPacs008(payout *models.BusinessPayoutTransaction, providerBankCode, providerName string) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if payout.NetPaymentAmount <= 0 {
		return nil, fmt.Errorf("payout %s has non-positive net amount %d", payout.ID, payout.NetPaymentAmount)
	}

	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()
	currency := common.ActiveCurrencyCode(strings.ToUpper(payout.Currency))
	netAmount := float64(payout.NetPaymentAmount) / 100

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   currency,
				Value: netAmount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(payout.ID)}[0],
					EndToEndId: common.Max35Text(payout.BookingID),
					TxId:       &[]common.Max35Text{common.Max35Text(payout.ID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   currency,
					Value: netAmount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(e.platformBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("Servana Platform")}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(providerBankCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(providerName)}[0],
				},
			},
		},
	}

	return doc, nil
}

// ConvertToXML renders an ISO 20022 document as an XML string.
func (e *Exporter) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

package services

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
)

type MidtransService struct {
	SnapClient snap.Client
	CoreClient coreapi.Client
	serverKey  string
}

func NewMidtransService() *MidtransService {
	serverKey := os.Getenv("MIDTRANS_SERVER_KEY")
	clientKey := os.Getenv("MIDTRANS_CLIENT_KEY")
	envStr := os.Getenv("MIDTRANS_IS_PRODUCTION")

	env := midtrans.Sandbox
	if envStr == "true" {
		env = midtrans.Production
	}

	var s snap.Client
	s.New(serverKey, env)

	var c coreapi.Client
	c.New(serverKey, env)

	// Set Default Options
	midtrans.ServerKey = serverKey
	midtrans.ClientKey = clientKey
	midtrans.Environment = env

	return &MidtransService{
		SnapClient: s,
		CoreClient: c,
		serverKey:  serverKey,
	}
}

// CreateTransaction creates a Snap transaction for a payment page handoff
func (s *MidtransService) CreateTransaction(orderID string, amount int64, param *snap.Request) (*snap.Response, error) {
	if param == nil {
		param = &snap.Request{
			TransactionDetails: midtrans.TransactionDetails{
				OrderID:  orderID,
				GrossAmt: amount,
			},
		}
	} else {
		// Ensure OrderID and Amount are set if passed explicitly
		if param.TransactionDetails.OrderID == "" {
			param.TransactionDetails.OrderID = orderID
		}
		if param.TransactionDetails.GrossAmt == 0 {
			param.TransactionDetails.GrossAmt = amount
		}
	}

	resp, err := s.SnapClient.CreateTransaction(param)
	if err != nil {
		return nil, fmt.Errorf("midtrans create transaction error: %v", err)
	}

	return resp, nil
}

// CheckTransaction fetches the current status of a gateway transaction
func (s *MidtransService) CheckTransaction(orderID string) (*coreapi.TransactionStatusResponse, error) {
	resp, err := s.CoreClient.CheckTransaction(orderID)
	if err != nil {
		return nil, fmt.Errorf("midtrans check transaction error: %v", err)
	}
	return resp, nil
}

// CancelTransaction cancels a pending gateway transaction
func (s *MidtransService) CancelTransaction(orderID string) error {
	_, err := s.CoreClient.CancelTransaction(orderID)
	if err != nil {
		return fmt.Errorf("midtrans cancel transaction error: %v", err)
	}
	return nil
}

// RefundTransaction issues a refund against a settled gateway transaction
func (s *MidtransService) RefundTransaction(orderID string, amount int64, reason string) error {
	_, err := s.CoreClient.RefundTransaction(orderID, &coreapi.RefundReq{
		Amount: amount,
		Reason: reason,
	})
	if err != nil {
		return fmt.Errorf("midtrans refund transaction error: %v", err)
	}
	return nil
}

// VerifySignature checks a notification signature:
// SHA512(order_id + status_code + gross_amount + server_key)
func (s *MidtransService) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + s.serverKey))
	return hex.EncodeToString(sum[:]) == signatureKey
}

package testutil

import "creditengine/internal/config"

func BankTransferConfig() config.BankTransferConfig {
	return config.BankTransferConfig{
		Enabled:       true,
		BankName:      "Test Bank",
		AccountName:   "Credit Engine Ltd",
		AccountNumber: "000123456789",
		SwiftCode:     "TESTUS33",
		Instructions:  "转账备注请填写购买单号",
		UploadPath:    "/api/v1/proof/upload",
		MaxProofBytes: 1 << 20,
	}
}

func BillingConfig() config.BillingConfig {
	return config.BillingConfig{
		Tenant:                  "test",
		InvoicePrefix:           "INV",
		Currency:                "USD",
		CreditsPerUnit:          "5",
		PendingTimeoutMinutes:   60,
		ProcessingGraceMinutes:  10,
		ProcessingExpireMinutes: 24 * 60,
		MaxRetryCount:           3,
		DefaultLowThreshold:     100,
	}
}

package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditengine/internal/model"
	"creditengine/internal/repository"
)

func (e *testEnv) bankTransfer(t *testing.T, userID int64, amount string) *model.Purchase {
	t.Helper()
	p := e.createCredits(t, userID, amount, "")
	h, err := e.purchases.BeginSettlement(context.Background(), p.PurchaseNo, model.PaymentMethodBankTransfer)
	require.NoError(t, err)
	require.NotNil(t, h.BankDetails)
	assert.Equal(t, p.PurchaseNo, h.BankDetails.Reference)
	return e.reload(t, p.PurchaseNo)
}

func proofRequest(p *model.Purchase) *SubmitProofRequest {
	return &SubmitProofRequest{
		PurchaseNo:           p.PurchaseNo,
		UserID:               p.UserID,
		Filename:             "receipt.PNG",
		Data:                 []byte("\x89PNG fake"),
		TransactionReference: "BANK-REF-001",
	}
}

func TestProof_Validation(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	p := env.bankTransfer(t, 5001, "10")

	req := proofRequest(p)
	req.TransactionReference = "  "
	_, err := env.proofs.SubmitProof(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)

	req = proofRequest(p)
	req.Filename = "receipt.exe"
	_, err = env.proofs.SubmitProof(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)

	req = proofRequest(p)
	req.Data = bytes.Repeat([]byte("x"), int(env.cfg.BankTransfer.MaxProofBytes)+1)
	_, err = env.proofs.SubmitProof(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)

	req = proofRequest(p)
	req.UserID = 9999
	_, err = env.proofs.SubmitProof(ctx, req)
	assert.ErrorIs(t, err, ErrPurchaseNotFound)

	// 非线下转账的购买单
	checkout, _ := env.checkoutPaid(t, 5001, "10")
	_, err = env.proofs.SubmitProof(ctx, proofRequest(checkout))
	assert.ErrorIs(t, err, ErrPurchaseStatusInvalid)

	assert.Empty(t, env.blob.Objects)
}

func TestProof_RejectThenApprove(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	p := env.bankTransfer(t, 5002, "10")

	proof, err := env.proofs.SubmitProof(ctx, proofRequest(p))
	require.NoError(t, err)
	assert.Equal(t, model.ProofStatusPendingReview, proof.Status)
	assert.True(t, strings.HasPrefix(proof.ObjectKey, "payment-proofs/"+p.PurchaseNo+"/"))
	assert.True(t, strings.HasSuffix(proof.ObjectKey, ".png"))
	assert.Equal(t, "image/png", env.blob.Types[proof.ObjectKey])
	assert.Equal(t, "https://blob.test/"+proof.ObjectKey, proof.FileURL)

	// 审核中不允许再传
	_, err = env.proofs.SubmitProof(ctx, proofRequest(p))
	assert.ErrorIs(t, err, ErrPurchaseStatusInvalid)

	rejected, purchase, err := env.proofs.ReviewProof(ctx, &ReviewProofRequest{ProofID: proof.ID, Approve: false, Reviewer: "ops", Note: "金额不符"})
	require.NoError(t, err)
	assert.Equal(t, model.ProofStatusRejected, rejected.Status)
	assert.Equal(t, model.PaymentStatusProcessing, purchase.PaymentStatus)
	assert.Empty(t, env.ledgerEntries(t, 5002))

	// 驳回后的凭证不能再审
	_, _, err = env.proofs.ReviewProof(ctx, &ReviewProofRequest{ProofID: proof.ID, Approve: true, Reviewer: "ops"})
	assert.ErrorIs(t, err, repository.ErrProofStatusInvalid)

	req := proofRequest(p)
	req.TransactionReference = "BANK-REF-002"
	second, err := env.proofs.SubmitProof(ctx, req)
	require.NoError(t, err)

	approved, purchase, err := env.proofs.ReviewProof(ctx, &ReviewProofRequest{ProofID: second.ID, Approve: true, Reviewer: "ops"})
	require.NoError(t, err)
	assert.Equal(t, model.ProofStatusApproved, approved.Status)
	assert.Equal(t, model.PaymentStatusCompleted, purchase.PaymentStatus)
	assert.Equal(t, "BANK-REF-002", purchase.MetaString("provider_reference"))

	balance, err := env.ledger.GetBalance(ctx, 5002)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Balance)

	// 重复通过不会重复入账
	_, purchase, err = env.proofs.ReviewProof(ctx, &ReviewProofRequest{ProofID: second.ID, Approve: true, Reviewer: "ops"})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, purchase.PaymentStatus)
	assert.Len(t, env.ledgerEntries(t, 5002), 1)

	proofs, err := env.proofs.ListProofs(ctx, p.PurchaseNo)
	require.NoError(t, err)
	assert.Len(t, proofs, 2)
}

func TestProof_UploadFailure(t *testing.T) {
	env := setupEnv(t)
	p := env.bankTransfer(t, 5003, "10")
	env.blob.Fail = true

	_, err := env.proofs.SubmitProof(context.Background(), proofRequest(p))
	assert.Error(t, err)

	proofs, err := env.proofs.ListProofs(context.Background(), p.PurchaseNo)
	require.NoError(t, err)
	assert.Empty(t, proofs)
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
	"github.com/Mindburn-Labs/helm-guardian/pkg/ledger"
)

type memStore struct {
	entries []ledger.Entry
	err     error
}

func (m *memStore) SaveEntry(_ context.Context, e ledger.Entry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func sampleRecord() Record {
	return Record{
		ExecutionID:         "exec_1",
		EmergencyID:         "em_1",
		OperationType:       contracts.OperationMedicalTreatment,
		Amount:              contracts.NewMoney(50_00, "USD"),
		Recipient:           "clinic",
		SignaturesCollected: 2,
		Signers:             []string{"g1", "g2"},
		TxReceipt:           "tx_1",
		Status:              contracts.ExecutionCompleted,
		CompletedAt:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestLedgerSink_AppendsAndPersists(t *testing.T) {
	l := ledger.New()
	store := &memStore{}
	sink := NewLedgerSink(l, store)

	require.NoError(t, sink.Record(context.Background(), sampleRecord()))
	require.Len(t, store.entries, 1)
	assert.Equal(t, "execution.completed", store.entries[0].Kind)

	var got Record
	require.NoError(t, json.Unmarshal(store.entries[0].Payload, &got))
	assert.Equal(t, "exec_1", got.ExecutionID)
	assert.Equal(t, 2, got.SignaturesCollected)

	ok, _ := sink.Ledger().Verify()
	assert.True(t, ok)
}

func TestFanOut_JoinsErrors(t *testing.T) {
	bad := NewLedgerSink(ledger.New(), &memStore{err: errors.New("disk full")})
	good := NewLedgerSink(ledger.New(), nil)
	err := FanOut{bad, good, NewLogSink(nil)}.Record(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, good.Ledger().Length())
}

func TestRecordKind(t *testing.T) {
	r := sampleRecord()
	r.Status = contracts.ExecutionFailed
	assert.Equal(t, "execution.failed", r.Kind())
	r.Status = contracts.ExecutionCancelled
	assert.Equal(t, "execution.cancelled", r.Kind())
}

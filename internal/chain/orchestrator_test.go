package chain

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/common/errs"
	"marketcore/internal/contentstore"
)

var (
	testMarketplace = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testProxy       = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	testSeller      = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

// instantClock makes every poll interval elapse immediately.
type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// stuckClock never fires, so only context cancellation can end a wait.
type stuckClock struct{}

func (stuckClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

type stateResult struct {
	rec *OfferRecord
	err error
}

type fakeSubmitter struct {
	calls     []Call
	submitErr error

	states     []stateResult
	stateReads int

	receipts []*types.Receipt
}

func (f *fakeSubmitter) Submit(_ context.Context, call Call) (common.Hash, error) {
	f.calls = append(f.calls, call)
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	return common.HexToHash("0x01"), nil
}

func (f *fakeSubmitter) OfferState(context.Context, OfferRef) (*OfferRecord, error) {
	i := f.stateReads
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	f.stateReads++
	return f.states[i].rec, f.states[i].err
}

func (f *fakeSubmitter) Receipt(context.Context, common.Hash) (*types.Receipt, error) {
	if len(f.receipts) == 0 {
		return nil, nil
	}
	r := f.receipts[0]
	if len(f.receipts) > 1 {
		f.receipts = f.receipts[1:]
	}
	return r, nil
}

type fakeContent struct{ puts int }

func (f *fakeContent) PutJSON(context.Context, any) (string, error) {
	f.puts++
	return contentstore.ToNative([32]byte{0x42}), nil
}

func newTestOrchestrator(sub *fakeSubmitter, content *fakeContent) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))
	return NewOrchestrator(sub, content, testMarketplace, 5*time.Second, logger).
		WithClock(instantClock{})
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testRef() OfferRef {
	return OfferRef{ListingID: big.NewInt(7), OfferID: big.NewInt(3)}
}

func TestAcceptOfferProxiedUsesFixedGas(t *testing.T) {
	sub := &fakeSubmitter{states: []stateResult{
		{rec: &OfferRecord{Status: OfferAccepted}},
	}}
	content := &fakeContent{}
	o := newTestOrchestrator(sub, content)

	rec, err := o.AcceptOffer(context.Background(), testRef(), Identity{
		Address: testSeller,
		Proxy:   &testProxy,
	})
	require.NoError(t, err)
	assert.Equal(t, OfferAccepted, rec.Status)
	assert.Equal(t, 1, content.puts, "transition record uploaded before submission")

	require.Len(t, sub.calls, 1)
	call := sub.calls[0]
	assert.Equal(t, testProxy, call.To, "proxied call targets the proxy identity")
	assert.Equal(t, uint64(112339), call.GasLimit)

	selector := proxyABI.Methods["execute"].ID
	assert.Equal(t, selector, call.Data[:4], "calldata is wrapped in execute")
}

func TestAcceptOfferDirectEstimatesGas(t *testing.T) {
	sub := &fakeSubmitter{states: []stateResult{
		{rec: &OfferRecord{Status: OfferAccepted}},
	}}
	o := newTestOrchestrator(sub, &fakeContent{})

	_, err := o.AcceptOffer(context.Background(), testRef(), Identity{Address: testSeller})
	require.NoError(t, err)

	require.Len(t, sub.calls, 1)
	assert.Equal(t, testMarketplace, sub.calls[0].To)
	assert.Zero(t, sub.calls[0].GasLimit, "direct calls defer to node-side estimation")
}

func TestWaitForStatusRetriesReadFailures(t *testing.T) {
	sub := &fakeSubmitter{states: []stateResult{
		{err: errs.Network(nil, "node down")},
		{err: errs.Network(nil, "node down")},
		{rec: &OfferRecord{Status: OfferCreated}},
		{rec: &OfferRecord{Status: OfferFinalized}},
	}}
	o := newTestOrchestrator(sub, &fakeContent{})

	rec, err := o.FinalizeOffer(context.Background(), testRef(), Identity{Address: testSeller})
	require.NoError(t, err)
	assert.Equal(t, OfferFinalized, rec.Status)
	assert.Equal(t, 4, sub.stateReads)
}

func TestWaitForStatusConflictingTerminalState(t *testing.T) {
	sub := &fakeSubmitter{states: []stateResult{
		{rec: &OfferRecord{Status: OfferWithdrawn}},
	}}
	o := newTestOrchestrator(sub, &fakeContent{})

	_, err := o.AcceptOffer(context.Background(), testRef(), Identity{Address: testSeller})
	assert.True(t, errs.Is(err, errs.KindStateConflict), "got %v", err)
}

func TestWaitForStatusStopsOnCancel(t *testing.T) {
	sub := &fakeSubmitter{states: []stateResult{
		{rec: &OfferRecord{Status: OfferCreated}},
	}}
	o := newTestOrchestrator(sub, &fakeContent{}).WithClock(stuckClock{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := o.AcceptOffer(ctx, testRef(), Identity{Address: testSeller})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMakeOfferParsesAssignedOfferID(t *testing.T) {
	createdID := marketplaceABI.Events["OfferCreated"].ID
	receipt := &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: common.HexToHash("0x01"),
		Logs: []*types.Log{{
			Address: testMarketplace,
			Topics: []common.Hash{
				createdID,
				common.BytesToHash(testSeller.Bytes()),
				common.BigToHash(big.NewInt(7)),
				common.BigToHash(big.NewInt(11)),
			},
		}},
	}
	sub := &fakeSubmitter{receipts: []*types.Receipt{receipt}}
	o := newTestOrchestrator(sub, &fakeContent{})

	ref, txHash, err := o.MakeOffer(context.Background(), MakeOfferRequest{
		ListingID:      big.NewInt(7),
		PayloadHash:    [32]byte{0x99},
		FinalizeWindow: 28 * 24 * time.Hour,
		Value:          big.NewInt(1000),
		Buyer:          Identity{Address: testSeller},
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x01"), txHash)
	assert.Equal(t, int64(7), ref.ListingID.Int64())
	assert.Equal(t, int64(11), ref.OfferID.Int64())

	// Native-token offers carry the escrow amount as transaction value.
	require.Len(t, sub.calls, 1)
	require.NotNil(t, sub.calls[0].Value)
	assert.Equal(t, int64(1000), sub.calls[0].Value.Int64())
}

func TestMakeOfferTokenCurrencyCarriesNoValue(t *testing.T) {
	createdID := marketplaceABI.Events["OfferCreated"].ID
	sub := &fakeSubmitter{receipts: []*types.Receipt{{
		Status: types.ReceiptStatusSuccessful,
		TxHash: common.HexToHash("0x01"),
		Logs: []*types.Log{{
			Address: testMarketplace,
			Topics: []common.Hash{
				createdID,
				common.BytesToHash(testSeller.Bytes()),
				common.BigToHash(big.NewInt(7)),
				common.BigToHash(big.NewInt(1)),
			},
		}},
	}}}
	o := newTestOrchestrator(sub, &fakeContent{})

	_, _, err := o.MakeOffer(context.Background(), MakeOfferRequest{
		ListingID:      big.NewInt(7),
		FinalizeWindow: time.Hour,
		Value:          big.NewInt(1000),
		Currency:       common.HexToAddress("0x00000000000000000000000000000000000000dd"),
		Buyer:          Identity{Address: testSeller},
	})
	require.NoError(t, err)
	require.Len(t, sub.calls, 1)
	assert.Nil(t, sub.calls[0].Value, "token escrow moves funds via the token contract")
}

func TestMakeOfferRevertedReceipt(t *testing.T) {
	sub := &fakeSubmitter{receipts: []*types.Receipt{{
		Status: types.ReceiptStatusFailed,
		TxHash: common.HexToHash("0x01"),
	}}}
	o := newTestOrchestrator(sub, &fakeContent{})

	_, _, err := o.MakeOffer(context.Background(), MakeOfferRequest{
		ListingID:      big.NewInt(7),
		FinalizeWindow: time.Hour,
		Value:          big.NewInt(1000),
		Buyer:          Identity{Address: testSeller},
	})
	assert.True(t, errs.Is(err, errs.KindLedgerRevert), "got %v", err)
}

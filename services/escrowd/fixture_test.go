package escrowd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Ayush1832/tg-escrow-bot-sub001/core/events"
	"github.com/Ayush1832/tg-escrow-bot-sub001/core/mailbox"
	"github.com/Ayush1832/tg-escrow-bot-sub001/core/state"
	nativecommon "github.com/Ayush1832/tg-escrow-bot-sub001/native/common"
	"github.com/Ayush1832/tg-escrow-bot-sub001/native/escrow"
	"github.com/Ayush1832/tg-escrow-bot-sub001/services/escrowd/wallet"
	"github.com/Ayush1832/tg-escrow-bot-sub001/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAccount(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func newTestAuditLog(t *testing.T) *AuditLog {
	t.Helper()
	db, err := OpenAuditDB(AuditConfig{Driver: "sqlite", DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	log, err := NewAuditLog(db)
	require.NoError(t, err)
	return log
}

type fixture struct {
	engine     *escrow.Engine
	trades     *state.Manager
	pauses     *nativecommon.Pauses
	bus        *events.Bus
	audit      *AuditLog
	ledger     *wallet.Ledger
	dispatcher *Dispatcher
	service    *Service

	seller  [20]byte
	buyer   [20]byte
	admin   [20]byte
	deposit [20]byte
	fees    [3][20]byte
}

// newFixture wires the daemon components in memory with a running
// dispatcher delivering to a ledger wallet.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		engine:  escrow.NewEngine(),
		trades:  state.NewManager(storage.NewMemDB()),
		pauses:  nativecommon.NewPauses(),
		bus:     events.NewBus(),
		audit:   newTestAuditLog(t),
		ledger:  wallet.NewLedger(),
		seller:  testAccount(0x01),
		buyer:   testAccount(0x02),
		admin:   testAccount(0x03),
		deposit: testAccount(0x04),
		fees:    [3][20]byte{testAccount(0x11), testAccount(0x12), testAccount(0x13)},
	}
	f.engine.SetState(f.trades)
	f.engine.SetEmitter(f.bus)
	f.engine.SetPauses(f.pauses)

	box := mailbox.New[[32]byte](mailbox.WithIdleTimeout(time.Second))
	service, err := NewService(ServiceConfig{
		Engine:  f.engine,
		Trades:  f.trades,
		Mailbox: box,
		Pauses:  f.pauses,
		Audit:   f.audit,
		Logger:  discardLogger(),
	})
	require.NoError(t, err)
	f.service = service

	f.dispatcher = NewDispatcher(
		func(ctx context.Context, id [32]byte, result escrow.TransferResult) error {
			return service.ReportTransfer(ctx, Call{Name: "dispatcher"}, id, result)
		},
		WithWallet(f.ledger),
		WithWorkers(2),
		WithPollInterval(time.Millisecond),
		WithReportTimeout(time.Second),
		WithLogger(discardLogger()),
	)
	f.engine.SetOutbox(f.dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.dispatcher.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		box.Close()
	})
	return f
}

func (f *fixture) definition() escrow.TradeDefinition {
	deposit := f.deposit
	return escrow.TradeDefinition{
		Seller:         f.seller,
		Buyer:          f.buyer,
		Admin:          f.admin,
		DepositAccount: &deposit,
		Asset:          "USDT",
		Amount:         big.NewInt(1000),
		CommissionBps:  250,
		FeeRecipients:  f.fees,
		Nonce:          [32]byte{0x01},
	}
}

// fundedTrade creates and funds a trade through the service.
func (f *fixture) fundedTrade(t *testing.T) [32]byte {
	t.Helper()
	ctx := context.Background()
	view, err := f.service.Create(ctx, Call{Caller: f.seller}, f.definition())
	require.NoError(t, err)
	require.NoError(t, f.service.Deposit(ctx, Call{Name: "transport"}, view.ID, escrow.Deposit{
		Amount:     big.NewInt(1000),
		Sender:     f.buyer,
		Subaccount: f.deposit,
	}))
	return view.ID
}

func (f *fixture) waitSettled(t *testing.T, id [32]byte) escrow.StatusView {
	t.Helper()
	var view escrow.StatusView
	require.Eventually(t, func() bool {
		var err error
		view, err = f.service.Status(id)
		return err == nil && view.Settled
	}, 2*time.Second, 5*time.Millisecond)
	return view
}

package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"signalengine/src/model"

	"github.com/DATA-DOG/go-sqlmock"
)

func signalRows(returned ...model.Signal) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "symbol", "direction", "entry_price", "stop_loss", "take_profit", "status"})
	for _, s := range returned {
		rows.AddRow(s.ID, s.Symbol, s.Direction, s.EntryPrice, s.StopLoss, s.TakeProfit, s.Status)
	}
	return rows
}

func TestSignalRepositoryFindByStatuses(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&SignalRepository{}).WithDB(mockDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "signals" WHERE status IN ($1,$2) ORDER BY id ASC`)).
		WithArgs(model.SignalStatusPending, model.SignalStatusActive).
		WillReturnRows(signalRows(
			model.Signal{ID: 1, Symbol: "BTCUSDT", Direction: model.SignalDirectionLong, EntryPrice: 110, StopLoss: 100, TakeProfit: 120, Status: model.SignalStatusPending},
			model.Signal{ID: 2, Symbol: "ETHUSDT", Direction: model.SignalDirectionShort, EntryPrice: 3000, StopLoss: 3100, TakeProfit: 2800, Status: model.SignalStatusActive},
		))

	signals, err := repo.FindByStatuses(context.Background(), []string{model.SignalStatusPending, model.SignalStatusActive})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(signals))
	}

	if signals[0].Symbol != "BTCUSDT" || signals[1].Symbol != "ETHUSDT" {
		t.Fatalf("signals not returned in expected order: %+v", signals)
	}
}

func TestSignalRepositoryMarkTerminal(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&SignalRepository{}).WithDB(mockDB)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "signals" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkTerminal(context.Background(), 1, model.SignalStatusClosed, "take-profit reached",
		time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
